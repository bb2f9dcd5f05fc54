package brokers

import (
	"context"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"melody-map/internal/common/logging"
)

// Fanout publishes every event to all of its brokers concurrently.
// One failing broker does not stop delivery to the others.
type Fanout struct {
	brokers []Broker
	logger  logging.Logger
}

func NewFanout(brokers ...Broker) *Fanout {
	return &Fanout{
		brokers: brokers,
		logger:  logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "brokers"}),
	}
}

func (f *Fanout) Name() string {
	names := make([]string, 0, len(f.brokers))
	for _, b := range f.brokers {
		names = append(names, b.Name())
	}
	return "fanout(" + strings.Join(names, ",") + ")"
}

// Len is the number of brokers
func (f *Fanout) Len() int {
	return len(f.brokers)
}

func (f *Fanout) Publish(ctx context.Context, channel string, payload interface{}) error {
	var (
		mu     sync.Mutex
		result *multierror.Error
		wg     sync.WaitGroup
	)

	for _, b := range f.brokers {
		wg.Add(1)
		go func(b Broker) {
			defer wg.Done()
			if err := b.Publish(ctx, channel, payload); err != nil {
				f.logger.Debug("Broker publish failed",
					logging.Field{Key: "broker", Value: b.Name()},
					logging.Field{Key: "error", Value: err.Error()},
				)
				mu.Lock()
				result = multierror.Append(result, err)
				mu.Unlock()
			}
		}(b)
	}
	wg.Wait()

	return result.ErrorOrNil()
}

// Health reports every unhealthy broker
func (f *Fanout) Health() error {
	var result *multierror.Error
	for _, b := range f.brokers {
		if err := b.Health(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (f *Fanout) Close() error {
	var result *multierror.Error
	for _, b := range f.brokers {
		if err := b.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

var _ Broker = (*Fanout)(nil)
