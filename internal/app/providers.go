package app

import (
	commonhttp "melody-map/internal/common/http"
	"melody-map/internal/common/logging"
	"melody-map/internal/providers"
)

// initializeProviders registers only the platforms that have credentials configured
func (app *App) initializeProviders() {
	client := commonhttp.NewHTTPClientWithTimeout(app.Config.Tokens().ProviderTimeout)
	registry := providers.NewRegistry()

	if app.Config.SpotifyEnabled() {
		registry.Register(providers.NewSpotify(
			providers.Credentials{
				ClientID:     app.Config.SpotifyClientID,
				ClientSecret: app.Config.SpotifyClientSecret,
			},
			providers.Endpoints{
				TokenURL: app.Config.SpotifyTokenURL,
				APIURL:   app.Config.SpotifyAPIURL,
			},
			client,
		))
	}

	if app.Config.DeezerEnabled() {
		registry.Register(providers.NewDeezer(
			providers.Credentials{
				ClientID:     app.Config.DeezerAppID,
				ClientSecret: app.Config.DeezerSecret,
			},
			providers.Endpoints{APIURL: app.Config.DeezerAPIURL},
			client,
		))
	}

	if app.Config.AppleMusicEnabled {
		registry.Register(providers.NewAppleMusic())
	}

	platforms := make([]string, 0, len(registry.Platforms()))
	for _, p := range registry.Platforms() {
		platforms = append(platforms, string(p))
	}
	app.Providers = registry
	app.Logger.Info("Providers: Registered", logging.Field{Key: "platforms", Value: platforms})
}
