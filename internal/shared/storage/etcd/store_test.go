package etcd

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	endpoints := os.Getenv("ETCD_TEST_ENDPOINTS")
	if endpoints == "" {
		endpoints = "localhost:2379"
	}
	s, err := NewStore(Config{Endpoints: strings.Split(endpoints, ","), DialTimeout: time.Second, Prefix: "/pilot-test"})
	if err != nil {
		t.Skipf("etcd not available: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewStore_NoEndpoints(t *testing.T) {
	_, err := NewStore(Config{})
	assert.Error(t, err)
}

func TestStore_Bridges(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	session := "s-" + uuid.NewString()
	t.Cleanup(func() { s.DeleteBridges(context.Background(), session) })

	require.NoError(t, s.PutBridge(ctx, session, &BridgeRecord{Name: "a_queue", Kind: "queue", Source: "redis://a_queue?role=source", Sink: "redis://a_queue?role=sink"}))
	require.NoError(t, s.PutBridge(ctx, session, &BridgeRecord{Name: "b_pubsub", Kind: "pubsub"}))

	recs, err := s.ListBridges(ctx, session)
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	require.NoError(t, s.DeleteBridges(ctx, session))
	recs, err = s.ListBridges(ctx, session)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestStore_Instances(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	session := "s-" + uuid.NewString()

	lease, err := s.RegisterInstance(ctx, session, &InstanceRecord{Name: "agent.agent_executor.0", Type: "agent_executor", Session: session, PID: os.Getpid()}, 10)
	require.NoError(t, err)

	recs, err := s.ListInstances(ctx, session)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "agent_executor", recs[0].Type)

	require.NoError(t, s.DeregisterInstance(ctx, lease))
	recs, err = s.ListInstances(ctx, session)
	require.NoError(t, err)
	assert.Empty(t, recs)
}
