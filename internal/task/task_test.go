package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context) error { return nil }

func TestNewPlanRejectsDuplicates(t *testing.T) {
	t.Parallel()
	_, err := NewPlan(Task{Name: "news", Action: noop}, Task{Name: " news ", Action: noop})
	require.ErrorIs(t, err, ErrDuplicateTask)
}

func TestNewPlanValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   []Task
		want error
	}{
		{name: "empty name", in: []Task{{Name: "  ", Action: noop}}, want: ErrEmptyName},
		{name: "nil action", in: []Task{{Name: "markets"}}, want: ErrNilAction},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPlan(tt.in...)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPlanKeepsOrderAndCopies(t *testing.T) {
	t.Parallel()
	p, err := NewPlan(Task{Name: "news", Action: noop}, Task{Name: "markets", Action: noop})
	require.NoError(t, err)
	assert.Equal(t, []string{"news", "markets"}, p.Names())
	assert.True(t, p.Has("markets"))
	assert.False(t, p.Has("weather"))

	ts := p.Tasks()
	ts[0].Name = "mutated"
	assert.Equal(t, "news", p.Names()[0])
	assert.Equal(t, 2, p.Len())
}
