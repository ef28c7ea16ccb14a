package rooms

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/metrics"
)

func newTestManager(t *testing.T) (*Manager, *recordingTransport, *metrics.Metrics) {
	t.Helper()
	tr := newRecordingTransport()
	m := metrics.New()
	n := 0
	mgr := NewManager(ManagerConfig{
		Registry:  NewRegistry(),
		Transport: tr,
		NewKey: func() string {
			n++
			return fmt.Sprintf("room-%d", n)
		},
		Metrics: m,
	})
	return mgr, tr, m
}

func TestManager_CreateJoinLeaveDisconnect(t *testing.T) {
	mgr, tr, m := newTestManager(t)

	key, err := mgr.CreateRoom("A", "alice")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	room, ok := mgr.Registry().Get(key)
	if !ok || !reflect.DeepEqual(room.Participants, []Participant{{"A", "alice"}}) {
		t.Fatalf("after create room=%v ok=%v", room, ok)
	}
	evs := tr.take("A")
	if got := eventNames(evs); !reflect.DeepEqual(got, []string{EventRoomJoined, EventRoomExistingParticipants}) {
		t.Fatalf("creator events=%v", got)
	}
	if existing := evs[1].Payload.([]Participant); len(existing) != 0 {
		t.Fatalf("creator existing=%v, want empty", existing)
	}

	if err := mgr.JoinRoom("B", key, "bob"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	evs = tr.take("B")
	if got := eventNames(evs); !reflect.DeepEqual(got, []string{EventRoomJoined, EventRoomExistingParticipants}) {
		t.Fatalf("joiner events=%v", got)
	}
	if evs[0].Payload != key {
		t.Fatalf("room:joined payload=%v, want %q", evs[0].Payload, key)
	}
	if got := evs[1].Payload.([]Participant); !reflect.DeepEqual(got, []Participant{{"A", "alice"}}) {
		t.Fatalf("existing=%v, want [{A alice}]", got)
	}
	evs = tr.take("A")
	if len(evs) != 1 || evs[0].Event != EventParticipantNew {
		t.Fatalf("A events=%v, want one participant:new", evs)
	}
	if got := evs[0].Payload.(Participant); got != (Participant{"B", "bob"}) {
		t.Fatalf("participant:new payload=%v", got)
	}

	if !mgr.LeaveRoom("B", key) {
		t.Fatalf("LeaveRoom reported not a member")
	}
	evs = tr.take("A")
	if len(evs) != 1 || evs[0].Event != EventParticipantLeft || evs[0].Payload != (ParticipantLeft{ConnectionID: "B"}) {
		t.Fatalf("A events=%v, want participant:left(B)", evs)
	}
	if evs := tr.take("B"); len(evs) != 0 {
		t.Fatalf("leaver received %v", eventNames(evs))
	}
	room, _ = mgr.Registry().Get(key)
	if !reflect.DeepEqual(room.Participants, []Participant{{"A", "alice"}}) {
		t.Fatalf("after leave participants=%v", room.Participants)
	}

	if n := mgr.HandleDisconnect("A"); n != 1 {
		t.Fatalf("HandleDisconnect=%d, want 1", n)
	}
	if _, ok := mgr.Registry().Get(key); ok {
		t.Fatalf("room still present after last member disconnected")
	}
	if tr.total() != 0 {
		t.Fatalf("unexpected events after disconnect")
	}

	for name, want := range map[string]uint64{
		metrics.RoomCreated:     1,
		metrics.RoomJoined:      2,
		metrics.ParticipantLeft: 2,
		metrics.RoomDeleted:     1,
	} {
		if got := m.Get(name); got != want {
			t.Fatalf("%s=%d, want %d", name, got, want)
		}
	}
}

func TestManager_JoinUnknownRoom(t *testing.T) {
	mgr, tr, m := newTestManager(t)
	key, _ := mgr.CreateRoom("A", "alice")
	tr.take("A")

	err := mgr.JoinRoom("B", "ghost", "bob")
	if !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("err=%v, want %v", err, ErrRoomNotFound)
	}
	evs := tr.take("B")
	if len(evs) != 1 || evs[0].Event != EventRoomNotFound {
		t.Fatalf("B events=%v, want exactly one room:notFound", eventNames(evs))
	}
	if tr.total() != 0 {
		t.Fatalf("other connections received events")
	}
	if mgr.Registry().Len() != 1 || mgr.Registry().ParticipantCount() != 1 {
		t.Fatalf("registry mutated: rooms=%d participants=%d", mgr.Registry().Len(), mgr.Registry().ParticipantCount())
	}
	if _, ok := mgr.Registry().Get(key); !ok {
		t.Fatalf("existing room lost")
	}
	if got := m.Get(metrics.RoomNotFound); got != 1 {
		t.Fatalf("room_not_found=%d, want 1", got)
	}
}

func TestManager_RejectsSecondMembership(t *testing.T) {
	mgr, tr, m := newTestManager(t)
	k1, _ := mgr.CreateRoom("A", "alice")
	k2, _ := mgr.CreateRoom("B", "bob")
	tr.take("A")
	tr.take("B")

	if err := mgr.JoinRoom("A", k2, "alice"); !errors.Is(err, ErrAlreadyInRoom) {
		t.Fatalf("join other room err=%v, want %v", err, ErrAlreadyInRoom)
	}
	if err := mgr.JoinRoom("A", k1, "alice"); !errors.Is(err, ErrAlreadyInRoom) {
		t.Fatalf("rejoin err=%v, want %v", err, ErrAlreadyInRoom)
	}
	if _, err := mgr.CreateRoom("A", "alice"); !errors.Is(err, ErrAlreadyInRoom) {
		t.Fatalf("create while joined err=%v, want %v", err, ErrAlreadyInRoom)
	}
	if tr.total() != 0 {
		t.Fatalf("rejected operations emitted events: %v", tr.events)
	}
	if mgr.Registry().Len() != 2 || mgr.Registry().ParticipantCount() != 2 {
		t.Fatalf("registry mutated: rooms=%d participants=%d", mgr.Registry().Len(), mgr.Registry().ParticipantCount())
	}
	if got := m.Get(metrics.JoinRejected); got != 3 {
		t.Fatalf("join_rejected=%d, want 3", got)
	}
}

func TestManager_ExistingParticipantsInInsertionOrder(t *testing.T) {
	mgr, tr, _ := newTestManager(t)
	key, _ := mgr.CreateRoom("A", "alice")
	_ = mgr.JoinRoom("B", key, "bob")
	_ = mgr.JoinRoom("C", key, "carol")
	tr.take("A")
	tr.take("B")

	evs := tr.take("C")
	want := []Participant{{"A", "alice"}, {"B", "bob"}}
	if got := evs[1].Payload.([]Participant); !reflect.DeepEqual(got, want) {
		t.Fatalf("existing=%v, want %v", got, want)
	}

	_ = mgr.JoinRoom("D", key, "dave")
	for _, id := range []string{"A", "B", "C"} {
		evs := tr.take(id)
		if len(evs) != 1 || evs[0].Event != EventParticipantNew {
			t.Fatalf("%s events=%v, want one participant:new", id, eventNames(evs))
		}
	}
	if evs := tr.take("D"); len(evs) != 2 {
		t.Fatalf("joiner events=%v, want room:joined and room:existingParticipants", eventNames(evs))
	}
}

func TestManager_LeaveNoop(t *testing.T) {
	mgr, tr, _ := newTestManager(t)
	key, _ := mgr.CreateRoom("A", "alice")
	tr.take("A")

	if mgr.LeaveRoom("B", key) {
		t.Fatalf("non-member leave reported removal")
	}
	if mgr.LeaveRoom("A", "ghost") {
		t.Fatalf("leave of missing room reported removal")
	}
	if n := mgr.HandleDisconnect("nobody"); n != 0 {
		t.Fatalf("HandleDisconnect=%d, want 0", n)
	}
	if tr.total() != 0 {
		t.Fatalf("no-op leaves emitted events")
	}

	// An explicit leave followed by a disconnect is idempotent.
	mgr.LeaveRoom("A", key)
	if n := mgr.HandleDisconnect("A"); n != 0 {
		t.Fatalf("HandleDisconnect after leave=%d, want 0", n)
	}
}

func TestManager_DisconnectLeavesEveryRoom(t *testing.T) {
	// Seed a connection into two rooms directly; the manager never allows this
	// itself, but disconnect handling must still sweep all of them.
	mgr, tr, _ := newTestManager(t)
	reg := mgr.Registry()
	for _, k := range []string{"k1", "k2"} {
		_ = reg.Create(k)
		_ = reg.AddParticipant(k, Participant{ConnectionID: "X"})
		_ = reg.AddParticipant(k, Participant{ConnectionID: "Y"})
		tr.JoinGroup("X", k)
		tr.JoinGroup("Y", k)
	}

	if n := mgr.HandleDisconnect("X"); n != 2 {
		t.Fatalf("HandleDisconnect=%d, want 2", n)
	}
	evs := tr.take("Y")
	if len(evs) != 2 || evs[0].Event != EventParticipantLeft || evs[1].Event != EventParticipantLeft {
		t.Fatalf("Y events=%v, want two participant:left", eventNames(evs))
	}
	if got := reg.RoomsOf("X"); len(got) != 0 {
		t.Fatalf("X still listed in %v", got)
	}
}

func TestManager_RelayMicStatus(t *testing.T) {
	mgr, tr, m := newTestManager(t)
	key, _ := mgr.CreateRoom("A", "alice")
	_ = mgr.JoinRoom("B", key, "bob")
	_ = mgr.JoinRoom("C", key, "carol")
	tr.take("A")
	tr.take("B")
	tr.take("C")

	mgr.RelayMicStatus("A", key, false)

	if evs := tr.take("A"); len(evs) != 0 {
		t.Fatalf("sender received its own mic status")
	}
	for _, id := range []string{"B", "C"} {
		evs := tr.take(id)
		if len(evs) != 1 || evs[0].Event != EventParticipantMicStatusChanged {
			t.Fatalf("%s events=%v", id, eventNames(evs))
		}
		if got := evs[0].Payload.(MicStatus); got != (MicStatus{ConnectionID: "A", MicEnabled: false}) {
			t.Fatalf("%s payload=%v", id, got)
		}
	}
	if got := m.Get(metrics.MicStatusRelayed); got != 1 {
		t.Fatalf("mic_status_relayed=%d, want 1", got)
	}
}

func TestManager_ConcurrentJoinsSeeConsistentSnapshots(t *testing.T) {
	mgr, tr, _ := newTestManager(t)
	key, _ := mgr.CreateRoom("host", "host")

	const n = 32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := mgr.JoinRoom(fmt.Sprintf("p%d", i), key, "p"); err != nil {
				t.Errorf("JoinRoom: %v", err)
			}
		}(i)
	}
	wg.Wait()

	room, _ := mgr.Registry().Get(key)
	if len(room.Participants) != n+1 {
		t.Fatalf("participants=%d, want %d", len(room.Participants), n+1)
	}

	// The k-th joiner's snapshot must equal the first k members, and it must
	// receive participant:new for exactly the members who joined after it.
	for idx, p := range room.Participants {
		evs := tr.take(p.ConnectionID)
		var existing []Participant
		newCount := 0
		for _, ev := range evs {
			switch ev.Event {
			case EventRoomExistingParticipants:
				existing = ev.Payload.([]Participant)
			case EventParticipantNew:
				newCount++
			}
		}
		if !reflect.DeepEqual(existing, room.Participants[:idx]) && !(idx == 0 && len(existing) == 0) {
			t.Fatalf("%s existing=%v, want %v", p.ConnectionID, existing, room.Participants[:idx])
		}
		if want := len(room.Participants) - idx - 1; newCount != want {
			t.Fatalf("%s participant:new count=%d, want %d", p.ConnectionID, newCount, want)
		}
	}
}
