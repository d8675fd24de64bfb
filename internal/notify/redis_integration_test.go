//go:build integration

package notify

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestRedisBridgeAcrossReplicas(t *testing.T) {
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start redis: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	addr := fmt.Sprintf("%s:%s", host, port.Port())

	first, second := &recorder{}, &recorder{}
	a, err := NewRedisBridge(addr, "", 0, "shipit:test", first, nil)
	if err != nil {
		t.Fatalf("bridge a: %v", err)
	}
	defer a.Close()
	b, err := NewRedisBridge(addr, "", 0, "shipit:test", second, nil)
	if err != nil {
		t.Fatalf("bridge b: %v", err)
	}
	defer b.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go a.Run(runCtx)
	go b.Run(runCtx)
	time.Sleep(300 * time.Millisecond)

	a.Publish(sampleEvent())

	deadline := time.Now().Add(5 * time.Second)
	for {
		second.mu.Lock()
		n := len(second.events)
		second.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("event not relayed to second replica")
		}
		time.Sleep(20 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	first.mu.Lock()
	defer first.mu.Unlock()
	if len(first.events) != 1 {
		t.Fatalf("origin replica should see its event once, got %d", len(first.events))
	}
}
