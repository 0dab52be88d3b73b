package parawork

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffForAttempt_ExponentialWithCap(t *testing.T) {
	base := 100 * time.Millisecond
	assert.Equal(t, 100*time.Millisecond, backoffForAttempt(0, base))
	assert.Equal(t, 200*time.Millisecond, backoffForAttempt(1, base))
	assert.Equal(t, 400*time.Millisecond, backoffForAttempt(2, base))
	assert.Equal(t, 60*time.Second, backoffForAttempt(20, base), "large attempts must saturate at the cap")
}

func TestBackoffForAttempt_NegativeAttemptTreatedAsZero(t *testing.T) {
	base := 50 * time.Millisecond
	assert.Equal(t, base, backoffForAttempt(-5, base))
}

func TestIsRetriable(t *testing.T) {
	assert.False(t, isRetriable(nil))
	assert.True(t, isRetriable(assertError{}))
}

type assertError struct{}

func (assertError) Error() string { return "boom" }
