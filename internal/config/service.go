package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/spf13/viper"

	"github.com/zjrosen/plume/internal/log"
	"github.com/zjrosen/plume/internal/pubsub"
	"github.com/zjrosen/plume/internal/watcher"
)

// Change is the payload of a configuration change event. Subscribers
// filter on Key.
type Change struct {
	Key string
}

// Service owns the loaded configuration and notifies subscribers when
// watched values change. Reads are snapshot-consistent.
type Service struct {
	mu     sync.RWMutex
	path   string
	cfg    Config
	broker *pubsub.Broker[Change]
	fw     *watcher.Watcher
}

// NewService loads the config file at path into a Service. A missing file
// yields defaults; a malformed one is an error.
func NewService(path string) (*Service, error) {
	cfg, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	return &Service{
		path:   path,
		cfg:    cfg,
		broker: pubsub.NewBroker[Change](),
	}, nil
}

func loadFile(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	cfg := Defaults()
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Current returns a snapshot of the loaded configuration.
func (s *Service) Current() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// DisplayOrder returns the user-configured mime-type preference list.
func (s *Service) DisplayOrder() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order := make([]string, len(s.cfg.Notebook.DisplayOrder))
	copy(order, s.cfg.Notebook.DisplayOrder)
	return order
}

// ScreenReaderOptimized reports the current accessibility state.
func (s *Service) ScreenReaderOptimized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Editor.ScreenReaderOptimized()
}

// SetDisplayOrder updates the preference list in memory, persists it to
// the config file, and publishes a change event.
func (s *Service) SetDisplayOrder(order []string) error {
	s.mu.Lock()
	s.cfg.Notebook.DisplayOrder = order
	path := s.path
	s.mu.Unlock()

	if err := SaveDisplayOrder(path, order); err != nil {
		return err
	}
	s.broker.Publish(pubsub.ChangedEvent, Change{Key: KeyDisplayOrder})
	return nil
}

// SetAccessibilitySupport updates the accessibility mode in memory and
// publishes a change event. The value is not written back; it usually
// mirrors platform screen-reader state rather than a user edit.
func (s *Service) SetAccessibilitySupport(mode string) error {
	switch mode {
	case "auto", "on", "off":
	default:
		return fmt.Errorf("accessibility support must be \"auto\", \"on\", or \"off\", got %q", mode)
	}

	s.mu.Lock()
	s.cfg.Editor.AccessibilitySupport = mode
	s.mu.Unlock()

	s.broker.Publish(pubsub.ChangedEvent, Change{Key: KeyAccessibilitySupport})
	return nil
}

// Subscribe delivers change events for the given key only. The
// subscription ends when ctx is done.
func (s *Service) Subscribe(ctx context.Context, key string) <-chan pubsub.Event[Change] {
	return s.broker.SubscribeFiltered(ctx, func(evt pubsub.Event[Change]) bool {
		return evt.Payload.Key == key
	})
}

// Watch reloads the config file when it changes on disk and publishes
// change events for the keys whose values differ. Stops when ctx is done.
func (s *Service) Watch(ctx context.Context) error {
	fw, err := watcher.New(watcher.DefaultConfig(s.path))
	if err != nil {
		return err
	}
	changes, err := fw.Start()
	if err != nil {
		_ = fw.Stop()
		return err
	}

	s.mu.Lock()
	s.fw = fw
	s.mu.Unlock()

	log.SafeGo("config-watch", func() {
		defer func() { _ = fw.Stop() }()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					return
				}
				s.reload()
			}
		}
	})
	return nil
}

func (s *Service) reload() {
	fresh, err := loadFile(s.path)
	if err != nil {
		log.ErrorErr(log.CatConfig, "config reload failed, keeping previous", err)
		return
	}

	s.mu.Lock()
	prev := s.cfg
	s.cfg = fresh
	s.mu.Unlock()

	if !equalStrings(prev.Notebook.DisplayOrder, fresh.Notebook.DisplayOrder) {
		s.broker.Publish(pubsub.ChangedEvent, Change{Key: KeyDisplayOrder})
	}
	if prev.Editor.AccessibilitySupport != fresh.Editor.AccessibilitySupport {
		s.broker.Publish(pubsub.ChangedEvent, Change{Key: KeyAccessibilitySupport})
	}
	log.Debug(log.CatConfig, "config reloaded", "path", s.path)
}

// Close stops watching and shuts down the event broker.
func (s *Service) Close() {
	s.mu.Lock()
	fw := s.fw
	s.fw = nil
	s.mu.Unlock()

	if fw != nil {
		_ = fw.Stop()
	}
	s.broker.Close()
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
