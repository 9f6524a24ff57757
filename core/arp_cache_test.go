package core

import (
	"bytes"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/signalsfoundry/netctrl/timectrl"
)

func newTestCache(entries int) (*ArpCache, *timectrl.TimeController) {
	clock := timectrl.NewTimeController(testStart, time.Millisecond, timectrl.Accelerated)
	return NewArpCache(ArpConfig{Entries: entries}, clock), clock
}

func hostIP(last byte) netip.Addr { return netip.AddrFrom4([4]byte{192, 168, 2, last}) }

func hostMAC(last byte) net.HardwareAddr { return net.HardwareAddr{0x02, 0, 0, 0, 0, last} }

func TestArpCacheOneEntryPerIPMostRecentWins(t *testing.T) {
	cache, _ := newTestCache(4)

	for i, mac := range []net.HardwareAddr{hostMAC(1), hostMAC(2), hostMAC(3)} {
		if err := cache.AddEntry(hostIP(10), mac); err != nil {
			t.Fatalf("AddEntry #%d: %v", i, err)
		}
	}
	if err := cache.AddEntry(hostIP(11), hostMAC(9)); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}

	entries := cache.Entries()
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2: %+v", len(entries), entries)
	}
	mac, err := cache.MAC(hostIP(10))
	if err != nil {
		t.Fatalf("MAC: %v", err)
	}
	if !bytes.Equal(mac, hostMAC(3)) {
		t.Fatalf("MAC = %v, want %v", mac, hostMAC(3))
	}
}

func TestArpCacheMissIsNotResolved(t *testing.T) {
	cache, _ := newTestCache(4)
	if cache.IsValid(hostIP(1)) {
		t.Fatalf("empty cache reported a valid entry")
	}
	if _, err := cache.MAC(hostIP(1)); !errors.Is(err, ErrNotResolved) {
		t.Fatalf("MAC error = %v, want ErrNotResolved", err)
	}
}

func TestArpCacheRejectsMalformedInput(t *testing.T) {
	cache, _ := newTestCache(4)
	if err := cache.AddEntry(netip.MustParseAddr("::1"), hostMAC(1)); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("IPv6 AddEntry error = %v, want ErrInvalidArgument", err)
	}
	if err := cache.AddEntry(hostIP(1), net.HardwareAddr{1, 2, 3}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("short MAC AddEntry error = %v, want ErrInvalidArgument", err)
	}
}

func TestArpCacheDecay(t *testing.T) {
	cache, clock := newTestCache(4)
	if err := cache.AddEntry(hostIP(1), hostMAC(1)); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}

	clock.Advance(30 * time.Second)
	cache.DecayProcess()
	if !cache.IsValid(hostIP(1)) {
		t.Fatalf("entry invalid after 30s, want valid")
	}

	clock.Advance(30 * time.Second)
	cache.DecayProcess()
	if cache.IsValid(hostIP(1)) {
		t.Fatalf("entry valid after 60s, want invalid")
	}
}

func TestArpCacheRefreshPreventsDecay(t *testing.T) {
	cache, clock := newTestCache(4)
	cache.AddEntry(hostIP(1), hostMAC(1))

	for i := 0; i < 10; i++ {
		clock.Advance(50 * time.Second)
		cache.AddEntry(hostIP(1), hostMAC(1))
		cache.DecayProcess()
		if !cache.IsValid(hostIP(1)) {
			t.Fatalf("refreshed entry decayed at iteration %d", i)
		}
	}
}

func TestArpCacheDecaySweepIsRateLimited(t *testing.T) {
	cache, clock := newTestCache(4)
	cache.AddEntry(hostIP(1), hostMAC(1))

	clock.Advance(59*time.Second + 900*time.Millisecond)
	cache.DecayProcess()
	clock.Advance(200 * time.Millisecond)
	// Less than DecayInterval since the previous sweep.
	cache.DecayProcess()
	if !cache.IsValid(hostIP(1)) {
		t.Fatalf("sweep ran before DecayInterval elapsed")
	}
	clock.Advance(time.Second)
	cache.DecayProcess()
	if cache.IsValid(hostIP(1)) {
		t.Fatalf("stale entry survived a due sweep")
	}
}

func TestArpCacheStaticEntriesDoNotDecay(t *testing.T) {
	cache, clock := newTestCache(2)
	if err := cache.AddStaticEntry(hostIP(1), hostMAC(1)); err != nil {
		t.Fatalf("AddStaticEntry: %v", err)
	}
	// A learned mapping does not override the static one.
	cache.AddEntry(hostIP(1), hostMAC(7))

	clock.Advance(time.Hour)
	cache.DecayProcess()
	mac, err := cache.MAC(hostIP(1))
	if err != nil {
		t.Fatalf("static entry decayed: %v", err)
	}
	if !bytes.Equal(mac, hostMAC(1)) {
		t.Fatalf("static MAC = %v, want %v", mac, hostMAC(1))
	}
}

func TestArpCacheEvictsOldestWhenFull(t *testing.T) {
	cache, clock := newTestCache(3)
	for i := byte(1); i <= 3; i++ {
		cache.AddEntry(hostIP(i), hostMAC(i))
		clock.Advance(time.Second)
	}
	// Refresh .1 so .2 becomes the oldest.
	cache.AddEntry(hostIP(1), hostMAC(1))

	if err := cache.AddEntry(hostIP(4), hostMAC(4)); err != nil {
		t.Fatalf("AddEntry on full cache: %v", err)
	}
	if cache.IsValid(hostIP(2)) {
		t.Fatalf("oldest entry .2 was not evicted")
	}
	for _, last := range []byte{1, 3, 4} {
		if !cache.IsValid(hostIP(last)) {
			t.Fatalf("entry .%d missing after eviction", last)
		}
	}
}

func TestArpCacheFullOfStaticEntries(t *testing.T) {
	cache, _ := newTestCache(1)
	cache.AddStaticEntry(hostIP(1), hostMAC(1))
	if err := cache.AddEntry(hostIP(2), hostMAC(2)); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("AddEntry error = %v, want ErrCapacityExceeded", err)
	}
}

func TestArpCacheForceRequestPacing(t *testing.T) {
	cache, clock := newTestCache(4)
	cache.AddEntry(hostIP(1), hostMAC(1))

	if err := cache.ForceRequest(hostIP(1)); err != nil {
		t.Fatalf("ForceRequest: %v", err)
	}
	if cache.IsValid(hostIP(1)) {
		t.Fatalf("forced entry still valid, want pending")
	}

	var requested []netip.Addr
	send := func(ip netip.Addr) bool {
		requested = append(requested, ip)
		return true
	}

	cache.dueRequests(send)
	cache.dueRequests(send)
	if len(requested) != 1 {
		t.Fatalf("requests within cooldown = %d, want 1", len(requested))
	}

	// A non-forced request keeps the cooldown.
	cache.request(hostIP(1), false)
	cache.dueRequests(send)
	if len(requested) != 1 {
		t.Fatalf("request() reset the cooldown")
	}

	clock.Advance(2 * time.Second)
	cache.dueRequests(send)
	if len(requested) != 2 {
		t.Fatalf("requests after cooldown = %d, want 2", len(requested))
	}

	cache.AddEntry(hostIP(1), hostMAC(5))
	clock.Advance(2 * time.Second)
	cache.dueRequests(send)
	if len(requested) != 2 {
		t.Fatalf("resolved entry was requested again")
	}
}

func TestArpCacheFailedRequestIsRetried(t *testing.T) {
	cache, _ := newTestCache(4)
	cache.ForceRequest(hostIP(1))

	calls := 0
	cache.dueRequests(func(netip.Addr) bool { calls++; return false })
	cache.dueRequests(func(netip.Addr) bool { calls++; return true })
	if calls != 2 {
		t.Fatalf("request attempts = %d, want retry after failure", calls)
	}
}

func TestArpCacheExhaustedAfterMaxAttempts(t *testing.T) {
	clock := timectrl.NewTimeController(testStart, time.Millisecond, timectrl.Accelerated)
	cache := NewArpCache(ArpConfig{Entries: 2, MaxRequestAttempts: 2}, clock)
	send := func(netip.Addr) bool { return true }

	cache.request(hostIP(1), false)
	cache.dueRequests(send)
	if cache.exhausted(hostIP(1)) {
		t.Fatalf("exhausted after one attempt")
	}
	clock.Advance(2 * time.Second)
	cache.request(hostIP(1), false)
	cache.dueRequests(send)
	if cache.exhausted(hostIP(1)) {
		t.Fatalf("exhausted before the last cooldown expired")
	}
	clock.Advance(2 * time.Second)
	if !cache.exhausted(hostIP(1)) {
		t.Fatalf("not exhausted after %d unanswered requests", 2)
	}
	if _, pending := cache.Counts(); pending != 0 {
		t.Fatalf("pending = %d after exhaustion, want 0", pending)
	}
	if cache.exhausted(hostIP(1)) {
		t.Fatalf("exhausted reported twice for one request group")
	}
}

func TestArpCacheForcedRequestIsSentOnce(t *testing.T) {
	cache, clock := newTestCache(4)
	if err := cache.ForceRequest(hostIP(1)); err != nil {
		t.Fatalf("ForceRequest: %v", err)
	}

	requests := 0
	for i := 0; i < 30; i++ {
		cache.dueRequests(func(netip.Addr) bool { requests++; return true })
		clock.Advance(2 * time.Second)
	}
	if requests != 1 {
		t.Fatalf("requests = %d, want 1", requests)
	}
	if _, pending := cache.Counts(); pending != 0 {
		t.Fatalf("pending = %d with nobody waiting, want 0", pending)
	}
}

func TestArpCacheRequestsWhileWanted(t *testing.T) {
	cache, clock := newTestCache(4)

	requests := 0
	send := func(netip.Addr) bool { requests++; return true }
	for i := 0; i < 3; i++ {
		cache.request(hostIP(1), false)
		cache.dueRequests(send)
		clock.Advance(2 * time.Second)
	}
	cache.dueRequests(send)
	cache.dueRequests(send)
	if requests != 3 {
		t.Fatalf("requests = %d, want one per cooldown while wanted", requests)
	}
}
