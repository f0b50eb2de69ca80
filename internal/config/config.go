// Package config loads the pre-parsed configuration spec section 6
// names: an environment variable naming a URI that locates a text
// configuration carrying liveliness, SPDP interval, defrag/reorder
// limits, and address-reuse settings. Parsing is via
// github.com/spf13/viper; changes to the referenced file are watched
// with github.com/fsnotify/fsnotify and debounced the way
// steveyegge-beads' watchIssues debounces filesystem events, then
// published on the Loader's updates channel. cmd/rtmeshd logs each
// update; the discovery scheduler and lease defaults do not consume it.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/rtmesh/rtmesh/internal/log"
)

// debounceDelay coalesces rapid successive file-change events the way
// steveyegge-beads' watchIssues does before re-reading.
const debounceDelay = 500 * time.Millisecond

// Config is the subset of the DDSI configuration this module consumes.
type Config struct {
	// SPDPInterval overrides the default SPDP publish interval
	// derivation of spec section 6; zero means "derive from lease".
	SPDPInterval time.Duration `mapstructure:"spdp_interval"`

	// ParticipantLeaseDuration is the default participant lease
	// duration when an SPDP announcement doesn't specify one; spec
	// section 6 defaults this to infinite if unset (represented here
	// as zero, the Go zero-value for "use Never").
	ParticipantLeaseDuration time.Duration `mapstructure:"participant_lease_duration"`

	// AgingBaseInterval is the base probe interval for aging locators,
	// spec section 4.6.
	AgingBaseInterval time.Duration `mapstructure:"aging_base_interval"`

	// RetransmitMaxBytes/RetransmitMaxMessages bound the non-timed
	// retransmit queue, spec section 4.1.
	RetransmitMaxBytes    int `mapstructure:"retransmit_max_bytes"`
	RetransmitMaxMessages int `mapstructure:"retransmit_max_messages"`

	// AllowAddressReuse mirrors the TCP-address-reuse flag spec
	// section 6 says originates from configuration.
	AllowAddressReuse bool `mapstructure:"allow_address_reuse"`

	// LogLevel is parsed by internal/log.SetLevel.
	LogLevel string `mapstructure:"log_level"`
}

func defaults() Config {
	return Config{
		SPDPInterval:          0,
		ParticipantLeaseDuration: 0,
		AgingBaseInterval:     30 * time.Second,
		RetransmitMaxBytes:    1 << 20,
		RetransmitMaxMessages: 1024,
		AllowAddressReuse:     false,
		LogLevel:              "info",
	}
}

// Loader owns the viper instance and fsnotify watcher backing one
// configuration source.
type Loader struct {
	log *log.Logger
	v   *viper.Viper

	updates chan Config
	watcher *fsnotify.Watcher
}

// Load reads $envVar, expecting it to name a path to a YAML
// configuration file, parses it with defaults() as the baseline, and
// starts watching it for changes. The returned Loader's updates channel
// holds the newest successfully reparsed Config: an update not yet read
// is replaced by a newer one. Load never closes that channel.
func Load(envVar string) (*Loader, Config, error) {
	uri := os.Getenv(envVar)
	if uri == "" {
		return nil, defaults(), fmt.Errorf("config: environment variable %s is not set", envVar)
	}
	path := strings.TrimPrefix(uri, "file://")

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	for k, val := range defaultsMap() {
		v.SetDefault(k, val)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, defaults(), fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, defaults(), err
	}

	l := &Loader{
		log:     log.For("config"),
		v:       v,
		updates: make(chan Config, 1),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, cfg, fmt.Errorf("config: creating watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, cfg, fmt.Errorf("config: watching %s: %w", path, err)
	}
	l.watcher = watcher

	go l.watch(path)

	return l, cfg, nil
}

// Updates returns the channel of successfully reparsed configurations.
func (l *Loader) Updates() <-chan Config { return l.updates }

// Close stops the watcher goroutine.
func (l *Loader) Close() error {
	if l.watcher == nil {
		return nil
	}
	return l.watcher.Close()
}

func (l *Loader) watch(path string) {
	var debounce *time.Timer
	reload := func() {
		if err := l.v.ReadInConfig(); err != nil {
			l.log.Warnf("config: reload of %s failed: %v", path, err)
			return
		}
		cfg, err := decode(l.v)
		if err != nil {
			l.log.Warnf("config: reparse of %s failed: %v", path, err)
			return
		}
		select {
		case l.updates <- cfg:
		default:
			// drop the stale pending update in favor of the newest
			select {
			case <-l.updates:
			default:
			}
			l.updates <- cfg
		}
	}

	for event := range l.watcher.Events {
		if !event.Has(fsnotify.Write) {
			continue
		}
		if debounce != nil {
			debounce.Stop()
		}
		debounce = time.AfterFunc(debounceDelay, reload)
	}
}

func decode(v *viper.Viper) (Config, error) {
	cfg := defaults()
	if err := v.Unmarshal(&cfg); err != nil {
		return defaults(), fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

func defaultsMap() map[string]any {
	d := defaults()
	return map[string]any{
		"spdp_interval":               d.SPDPInterval,
		"participant_lease_duration":  d.ParticipantLeaseDuration,
		"aging_base_interval":         d.AgingBaseInterval,
		"retransmit_max_bytes":        d.RetransmitMaxBytes,
		"retransmit_max_messages":     d.RetransmitMaxMessages,
		"allow_address_reuse":         d.AllowAddressReuse,
		"log_level":                   d.LogLevel,
	}
}
