package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *SyncConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}
	if c.Stream.URL == "" {
		return errors.New("stream.url is required")
	}
	if c.Stream.RetryCap < 1 {
		return errors.New("stream.retry_cap must be >= 1")
	}

	if c.Poller.Concurrency < 1 {
		return errors.New("poller.concurrency must be >= 1")
	}

	if c.Coordinator.Tick <= 0 {
		return errors.New("coordinator.tick must be > 0")
	}
	if c.Normalizer.Epsilon <= 0 {
		return errors.New("normalizer.epsilon must be > 0")
	}

	if len(c.Venues) == 0 {
		return errors.New("at least one venue is required")
	}
	for i, v := range c.Venues {
		if err := v.validate(); err != nil {
			return fmt.Errorf("venues[%d]: %w", i, err)
		}
	}

	for i, inst := range c.Instruments {
		if inst.ID == "" {
			return fmt.Errorf("instruments[%d]: id is required", i)
		}
		if inst.Ticker == "" {
			return fmt.Errorf("instruments[%d] (%s): ticker is required", i, inst.ID)
		}
	}

	if c.Sinks.Postgres.Enabled {
		if err := c.Sinks.Postgres.DB.validate("sinks.postgres.db"); err != nil {
			return err
		}
	}

	if c.Admin.Port < 1 || c.Admin.Port > 65535 {
		return fmt.Errorf("admin.port must be between 1 and 65535, got %d", c.Admin.Port)
	}

	return nil
}

func (v *VenueConfig) validate() error {
	if v.ID == "" {
		return errors.New("id is required")
	}
	if v.AlwaysOpen {
		return nil
	}
	if v.Timezone == "" {
		return fmt.Errorf("%s: timezone is required", v.ID)
	}
	if v.Open == "" || v.Close == "" {
		return fmt.Errorf("%s: open and close times are required", v.ID)
	}
	if v.PreMarket < 0 || v.PostMarket < 0 {
		return fmt.Errorf("%s: session window offsets must be >= 0", v.ID)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
