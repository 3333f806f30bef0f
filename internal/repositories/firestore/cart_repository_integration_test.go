//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/hanko-field/cartengine/internal/domain"
	pconfig "github.com/hanko-field/cartengine/internal/platform/config"
	pfirestore "github.com/hanko-field/cartengine/internal/platform/firestore"
	"github.com/hanko-field/cartengine/internal/repositories"
)

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

func TestCartRepositoryIntegration(t *testing.T) {
	provider := startEmulatorProvider(t, "cart-test")

	repo, err := NewCartRepository(provider)
	if err != nil {
		t.Fatalf("new cart repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	coupon := "WELCOME"
	created, err := repo.Save(ctx, domain.Cart{
		ID:     "cart-1",
		Number: "01hzzcart",
		Email:  "shopper@example.com",
		LineItems: []domain.LineItem{
			{ID: "li-1", PurchasableID: "prod-1", Options: map[string]any{"size": "M"}, OptionsSignature: "sig", Qty: 2},
		},
		CouponCode:      &coupon,
		ShippingAddress: &domain.Address{ID: "addr-1", OwnerID: "cart-1", Fields: map[string]string{"locality": "Tokyo"}},
		Fields:          map[string]any{"giftMessage": "hi"},
	}, nil)
	if err != nil {
		t.Fatalf("create cart: %v", err)
	}
	if created.UpdatedAt.IsZero() {
		t.Fatalf("expected write time on created cart")
	}

	if _, err := repo.Save(ctx, created, nil); !isConflict(err) {
		t.Fatalf("expected conflict when creating an existing id, got %v", err)
	}

	loaded, err := repo.FindIncompleteByNumber(ctx, "01hzzcart")
	if err != nil {
		t.Fatalf("find cart: %v", err)
	}
	if loaded.ID != "cart-1" || len(loaded.LineItems) != 1 || loaded.LineItems[0].Qty != 2 {
		t.Fatalf("unexpected loaded cart %#v", loaded)
	}
	if loaded.CouponCode == nil || *loaded.CouponCode != "WELCOME" {
		t.Fatalf("expected coupon to round trip, got %v", loaded.CouponCode)
	}
	if loaded.ShippingAddress == nil || loaded.ShippingAddress.Fields["locality"] != "Tokyo" {
		t.Fatalf("expected embedded shipping address, got %#v", loaded.ShippingAddress)
	}
	if !loaded.UpdatedAt.Equal(created.UpdatedAt) {
		t.Fatalf("expected update time %s, got %s", created.UpdatedAt, loaded.UpdatedAt)
	}

	// Two writers racing from the same read: exactly one wins.
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		conflicts int
		wins      int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(qty int) {
			defer wg.Done()
			edit := loaded.Clone()
			edit.LineItems[0].Qty = qty
			expected := loaded.UpdatedAt
			_, err := repo.Save(ctx, edit, &expected)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case isConflict(err):
				conflicts++
			default:
				t.Errorf("unexpected save error: %v", err)
			}
		}(i + 3)
	}
	wg.Wait()
	if wins != 1 || conflicts != 1 {
		t.Fatalf("expected one win and one conflict, got %d wins %d conflicts", wins, conflicts)
	}

	current, err := repo.FindIncompleteByNumber(ctx, "01hzzcart")
	if err != nil {
		t.Fatalf("reload cart: %v", err)
	}
	ordered := time.Now().UTC().Truncate(time.Millisecond)
	current.IsCompleted = true
	current.DateOrdered = &ordered
	current.CouponCode = nil
	expected := current.UpdatedAt
	if _, err := repo.Save(ctx, current, &expected); err != nil {
		t.Fatalf("complete cart: %v", err)
	}

	if _, err := repo.FindIncompleteByNumber(ctx, "01hzzcart"); !isNotFound(err) {
		t.Fatalf("expected completed cart to be hidden, got %v", err)
	}
}

func TestAddressRepositoryDuplicateIntegration(t *testing.T) {
	provider := startEmulatorProvider(t, "address-test")

	repo, err := NewAddressRepository(provider)
	if err != nil {
		t.Fatalf("new address repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := provider.Client(ctx)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if _, err := client.Collection("users/user-1/addresses").Doc("home").Set(ctx, map[string]any{
		"recipient": "Hanako Yamada",
		"line1":     "1-2-3 Shibuya",
		"city":      "Tokyo",
		"country":   "jp",
		"updatedAt": time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed address: %v", err)
	}

	saved, err := repo.ListSaved(ctx, "user-1")
	if err != nil {
		t.Fatalf("list saved: %v", err)
	}
	if len(saved) != 1 || saved[0].Fields["countryCode"] != "JP" {
		t.Fatalf("unexpected saved addresses %#v", saved)
	}

	copied, err := repo.Duplicate(ctx, saved[0], "cart-9")
	if err != nil {
		t.Fatalf("duplicate: %v", err)
	}
	if copied.ID == "" || copied.ID == "home" || copied.OwnerID != "cart-9" {
		t.Fatalf("unexpected copy %#v", copied)
	}

	snap, err := client.Collection("carts/cart-9/addresses").Doc(copied.ID).Get(ctx)
	if err != nil {
		t.Fatalf("read copy: %v", err)
	}
	if source, _ := snap.Data()["sourceAddressId"].(string); source != "home" {
		t.Fatalf("expected copy to record its source, got %q", source)
	}
}

func startEmulatorProvider(t *testing.T, projectID string) *pfirestore.Provider {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })
	waitForEndpoint(t, endpoint, 30*time.Second)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: projectID, EmulatorHost: endpoint})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })
	return provider
}

func isConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func freePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	out, err := exec.Command("docker", "run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	).CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = exec.CommandContext(ctx, "docker", "stop", id).Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		lastErr = err
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("emulator did not become ready: %v", lastErr)
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "docker", "info").Run(); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}
}
