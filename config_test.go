package parawork_test

import (
	"testing"

	"github.com/parawork/parawork"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestDefaultConfig(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	cfg := parawork.DefaultConfig(logger)

	assert.Equal(t, 10, cfg.NumWorkers, "Default NumWorkers should be 10")
	assert.Equal(t, 1000, cfg.JobQueueSize, "Default JobQueueSize should be 1000")
	assert.Equal(t, 1000, cfg.ResultQueueSize, "Default ResultQueueSize should be 1000")
	assert.Equal(t, parawork.Key, cfg.Ordering, "Default ordering should be Key")
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	tests := []struct {
		name    string
		mutate  func(*parawork.Config)
		wantErr bool
	}{
		{"valid default", func(c *parawork.Config) {}, false},
		{"zero workers", func(c *parawork.Config) { c.NumWorkers = 0 }, true},
		{"nil logger", func(c *parawork.Config) { c.Logger = nil }, true},
		{"zero commit interval", func(c *parawork.Config) { c.CommitInterval = 0 }, true},
		{"zero max queue", func(c *parawork.Config) { c.MaxQueue = 0 }, true},
		{"negative max beyond base", func(c *parawork.Config) { c.MaxBeyondBase = -1 }, true},
		{"unrecognized ordering", func(c *parawork.Config) { c.Ordering = parawork.Ordering(99) }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := parawork.DefaultConfig(logger)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOrdering_TextRoundTrip(t *testing.T) {
	for _, o := range []parawork.Ordering{parawork.Unordered, parawork.Partition, parawork.Key} {
		text, err := o.MarshalText()
		assert.NoError(t, err)

		var got parawork.Ordering
		assert.NoError(t, got.UnmarshalText(text))
		assert.Equal(t, o, got)
	}
}

func TestOrdering_UnmarshalTextRejectsUnknown(t *testing.T) {
	var o parawork.Ordering
	assert.Error(t, o.UnmarshalText([]byte("sideways")))
}

func TestLoadConfig_MissingFileFallsBackToDefaults(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	cfg, err := parawork.LoadConfig("/nonexistent/path/config.yaml", logger)
	assert.NoError(t, err)
	assert.Equal(t, 10, cfg.NumWorkers)
}
