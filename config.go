package i8254

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PITConfig places the timer's four-port window and names the interrupt
// line channel 0 drives.
type PITConfig struct {
	IOBase uint16 `yaml:"iobase"`
	IRQ    uint8  `yaml:"irq"`
}

// HPETConfig optionally maps a high-precision timer peer that can take
// over the legacy timer interrupt.
type HPETConfig struct {
	Enabled bool   `yaml:"enabled"`
	Base    uint64 `yaml:"base"`
}

// Config describes the legacy timer block a Board assembles.
type Config struct {
	PIT         PITConfig  `yaml:"pit"`
	SpeakerPort bool       `yaml:"speaker_port"`
	HPET        HPETConfig `yaml:"hpet"`
}

// DefaultConfig returns the standard PC layout: PIT at 0x40 on IRQ 0,
// the speaker gate register at 0x61, HPET disabled.
func DefaultConfig() Config {
	return Config{
		PIT:         PITConfig{IOBase: 0x40, IRQ: 0},
		SpeakerPort: true,
		HPET:        HPETConfig{Enabled: false, Base: 0xFED00000},
	}
}

// ParseConfig decodes a YAML config, filling omitted fields from
// DefaultConfig.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads and decodes a YAML config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return ParseConfig(data)
}

func (c Config) validate() error {
	if int(c.PIT.IOBase)+3 > 0xFFFF {
		return fmt.Errorf("config: pit iobase 0x%x leaves no room for the four-port window", c.PIT.IOBase)
	}
	if c.PIT.IRQ > 15 {
		return fmt.Errorf("config: pit irq %d out of range", c.PIT.IRQ)
	}
	if c.HPET.Enabled && c.HPET.Base == 0 {
		return fmt.Errorf("config: hpet enabled without a base address")
	}
	return nil
}
