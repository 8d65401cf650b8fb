package capability

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVec3Distance(t *testing.T) {
	a := Vec3{0, 0, 0}
	b := Vec3{3, 4, 0}
	assert.InDelta(t, 5.0, a.DistanceTo(b), 1e-9)
	assert.Equal(t, Vec3{1, -1, 2}, Vec3{1.7, -0.2, 2.9}.Floor())
}

func TestEntityIdentityFallsBackToID(t *testing.T) {
	assert.Equal(t, "Steve", Entity{ID: "A7", Name: "Steve"}.Identity())
	assert.Equal(t, "A7", Entity{ID: "A7"}.Identity())
}

func TestCount(t *testing.T) {
	inv := []ItemStack{{"PLANK", 3}, {"LOG", 1}, {"PLANK", 2}}
	assert.Equal(t, 5, Count(inv, "PLANK"))
	assert.Equal(t, 0, Count(inv, "STONE"))
}

func TestKickErrorMatchesWithAs(t *testing.T) {
	err := fmt.Errorf("session: %w", &KickError{Reason: "flying"})
	var kick *KickError
	assert.True(t, errors.As(err, &kick))
	assert.Equal(t, "flying", kick.Reason)
}
