package presence

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterFirstSession(t *testing.T) {
	r := NewInMemoryRegistry()

	assert.True(t, r.Register("s1", 1))
	assert.False(t, r.Register("s2", 1))
	assert.True(t, r.Register("s3", 2))

	assert.True(t, r.IsOnline(1))
	assert.ElementsMatch(t, []string{"s1", "s2"}, r.SessionsFor(1))
	assert.ElementsMatch(t, []int{1, 2}, r.OnlineUserIDs())
}

func TestDeregisterLastSession(t *testing.T) {
	r := NewInMemoryRegistry()
	r.Register("s1", 1)
	r.Register("s2", 1)

	userID, last, ok := r.Deregister("s1")
	require.True(t, ok)
	assert.Equal(t, 1, userID)
	assert.False(t, last)
	assert.True(t, r.IsOnline(1))

	userID, last, ok = r.Deregister("s2")
	require.True(t, ok)
	assert.Equal(t, 1, userID)
	assert.True(t, last)
	assert.False(t, r.IsOnline(1))
	assert.Empty(t, r.SessionsFor(1))
}

func TestDeregisterUnknownSession(t *testing.T) {
	r := NewInMemoryRegistry()

	_, _, ok := r.Deregister("ghost")
	assert.False(t, ok)
}

func TestUserFor(t *testing.T) {
	r := NewInMemoryRegistry()
	r.Register("s1", 7)

	userID, ok := r.UserFor("s1")
	require.True(t, ok)
	assert.Equal(t, 7, userID)

	_, ok = r.UserFor("s2")
	assert.False(t, ok)
}

// Online state must always match session count: a user is online exactly
// while at least one session is registered, under any interleaving.
func TestOnlineMatchesSessionsUnderChurn(t *testing.T) {
	r := NewInMemoryRegistry()
	rng := rand.New(rand.NewSource(1))

	live := map[string]int{}
	perUser := map[int]int{}

	for i := 0; i < 2000; i++ {
		if len(live) == 0 || rng.Intn(2) == 0 {
			userID := rng.Intn(10) + 1
			sessionID := fmt.Sprintf("s%d", i)
			first := r.Register(sessionID, userID)
			assert.Equal(t, perUser[userID] == 0, first)
			live[sessionID] = userID
			perUser[userID]++
		} else {
			var sessionID string
			for id := range live {
				sessionID = id
				break
			}
			wantUser := live[sessionID]
			userID, last, ok := r.Deregister(sessionID)
			require.True(t, ok)
			assert.Equal(t, wantUser, userID)
			delete(live, sessionID)
			perUser[wantUser]--
			assert.Equal(t, perUser[wantUser] == 0, last)
		}

		for userID, count := range perUser {
			assert.Equal(t, count > 0, r.IsOnline(userID))
			assert.Len(t, r.SessionsFor(userID), count)
		}
	}
}

func TestConcurrentRegisterDeregister(t *testing.T) {
	r := NewInMemoryRegistry()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				sessionID := fmt.Sprintf("g%d-s%d", g, i)
				r.Register(sessionID, g%4)
				r.IsOnline(g % 4)
				r.Deregister(sessionID)
			}
		}(g)
	}
	wg.Wait()

	assert.Empty(t, r.OnlineUserIDs())
}
