package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Config_Defaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, 1, cfg.Replication)
	assert.False(t, cfg.Concurrency)
	assert.Equal(t, 1, cfg.Parallelism)
	assert.Equal(t, IterationProduct, cfg.Iteration)
	assert.Empty(t, cfg.Params)
	assert.Empty(t, cfg.Iters)
}

func Test_Iteration_String(t *testing.T) {
	assert.Equal(t, "product", IterationProduct.String())
	assert.Equal(t, "zip", IterationZip.String())
}

func Test_Config_Axes_Order(t *testing.T) {
	cfg := NewConfig()
	cfg.Iters = append(cfg.Iters,
		Axis{Name: "var1", Values: []string{"A", "B"}},
		Axis{Name: "var2", Values: []string{"C", "D"}},
	)

	assert.Equal(t, "var1", cfg.Iters[0].Name)
	assert.Equal(t, "var2", cfg.Iters[1].Name)
}
