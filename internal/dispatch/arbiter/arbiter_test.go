package arbiter_test

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/dispatchradio/internal/dispatch/arbiter"
	"github.com/example/dispatchradio/internal/dispatch/domain"
)

func holder(id string) domain.ChannelHolder {
	return domain.ChannelHolder{ConnectionID: id, Role: domain.RoleDriver, DriverCode: "TX-" + id}
}

func TestRequestGrantDenyRelease(t *testing.T) {
	a := arbiter.New()

	require.Equal(t, arbiter.Granted, a.Request(holder("A")))
	require.Equal(t, arbiter.Denied, a.Request(holder("B")))

	h, ok := a.Holder()
	require.True(t, ok)
	require.Equal(t, "A", h.ConnectionID)

	require.False(t, a.Release("B"), "non-holder release must be ignored")
	require.True(t, a.IsHolder("A"))

	require.True(t, a.Release("A"))
	_, ok = a.Holder()
	require.False(t, ok)

	require.Equal(t, arbiter.Granted, a.Request(holder("B")))
}

func TestRequestByHolderIsReaffirmed(t *testing.T) {
	a := arbiter.New()
	require.Equal(t, arbiter.Granted, a.Request(holder("A")))
	require.Equal(t, arbiter.Reaffirmed, a.Request(domain.ChannelHolder{ConnectionID: "A", Role: domain.RoleDispatcher}))

	h, _ := a.Holder()
	require.Equal(t, domain.RoleDriver, h.Role, "reaffirm keeps the original grant")
}

func TestForceReleaseOnlyAffectsHolder(t *testing.T) {
	a := arbiter.New()
	require.False(t, a.ForceRelease("A"))
	a.Request(holder("A"))
	require.False(t, a.ForceRelease("B"))
	require.True(t, a.ForceRelease("A"))
	require.False(t, a.IsHolder("A"))
}

func TestMutualExclusionOverRandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	ids := []string{"A", "B", "C", "D"}
	a := arbiter.New()
	var current string

	for i := 0; i < 5000; i++ {
		id := ids[rng.Intn(len(ids))]
		if rng.Intn(3) == 0 {
			released := a.Release(id)
			require.Equal(t, current == id, released, "step %d", i)
			if released {
				current = ""
			}
			continue
		}
		switch a.Request(holder(id)) {
		case arbiter.Granted:
			require.Empty(t, current, fmt.Sprintf("step %d: %s granted while %s holds", i, id, current))
			current = id
		case arbiter.Reaffirmed:
			require.Equal(t, current, id)
		case arbiter.Denied:
			require.NotEmpty(t, current)
			require.NotEqual(t, current, id)
		}
	}
}

func TestDecisionString(t *testing.T) {
	require.Equal(t, "granted", arbiter.Granted.String())
	require.Equal(t, "denied", arbiter.Denied.String())
	require.Equal(t, "reaffirmed", arbiter.Reaffirmed.String())
}
