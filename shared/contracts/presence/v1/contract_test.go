package v1

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDecode_KnownTypes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "auth_success", in: `{"type":"auth_success"}`, want: TypeAuthSuccess},
		{name: "auth_error", in: `{"type":"auth_error","error":"expired"}`, want: TypeAuthError},
		{name: "user_status", in: `{"type":"user_status","userId":7,"status":"online"}`, want: TypeUserStatus},
		{name: "contacts", in: `{"type":"contacts_statuses","statuses":[]}`, want: TypeContactsStatuses},
		{name: "pong", in: `{"type":"pong"}`, want: TypePong},
		{name: "ping", in: `{"type":"ping"}`, want: TypePing},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m, err := Decode([]byte(tc.in))
			if err != nil {
				t.Fatalf("Decode(%s): %v", tc.in, err)
			}
			if m.Type() != tc.want {
				t.Fatalf("type=%q want=%q", m.Type(), tc.want)
			}
		})
	}
}

func TestDecode_UserStatusPayload(t *testing.T) {
	t.Parallel()

	m, err := Decode([]byte(`{"type":"user_status","userId":7,"status":"away","lastSeen":"2024-05-01T10:00:00.000Z"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	us, ok := m.(UserStatus)
	if !ok {
		t.Fatalf("expected UserStatus, got %T", m)
	}
	if us.UserID != 7 || us.Status != StatusAway {
		t.Fatalf("unexpected record: %+v", us.StatusRecord)
	}
	want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if us.LastSeen == nil || !us.LastSeen.Equal(want) {
		t.Fatalf("lastSeen=%v want=%v", us.LastSeen, want)
	}
}

func TestDecode_UnknownTypeIsNotAnError(t *testing.T) {
	t.Parallel()

	m, err := Decode([]byte(`{"type":"typing","chatId":3}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	u, ok := m.(Unknown)
	if !ok || u.Kind != "typing" {
		t.Fatalf("expected Unknown{typing}, got %#v", m)
	}
}

func TestDecode_Malformed(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want error
	}{
		{in: `not json`, want: ErrMalformed},
		{in: `[1,2]`, want: ErrMalformed},
		{in: `{}`, want: ErrMissingType},
		{in: `{"type":"user_status","userId":"seven"}`, want: ErrMalformed},
		{in: `{"type":"contacts_statuses","statuses":{}}`, want: ErrMalformed},
	}

	for _, tc := range cases {
		_, err := Decode([]byte(tc.in))
		if !errors.Is(err, tc.want) {
			t.Fatalf("Decode(%s) err=%v want=%v", tc.in, err, tc.want)
		}
	}
}

func TestEncode_TypeFirst(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   Message
		want string
	}{
		{in: Ping{}, want: `{"type":"ping"}`},
		{in: Auth{Token: "abc"}, want: `{"type":"auth","token":"abc"}`},
		{in: GetStatuses{UserIDs: []int64{7, 9}}, want: `{"type":"get_statuses","userIds":[7,9]}`},
	}

	for _, tc := range cases {
		got, err := Encode(tc.in)
		if err != nil {
			t.Fatalf("Encode(%T): %v", tc.in, err)
		}
		if string(got) != tc.want {
			t.Fatalf("Encode(%T)=%s want=%s", tc.in, got, tc.want)
		}
	}

	if _, err := Encode(Unknown{Kind: "x"}); err == nil {
		t.Fatalf("expected error encoding Unknown")
	}
}

func TestStatusRecord_Validate(t *testing.T) {
	t.Parallel()

	if err := (StatusRecord{UserID: 1, Status: StatusBusy}).Validate(); err != nil {
		t.Fatalf("valid record rejected: %v", err)
	}
	err := (StatusRecord{UserID: 1, Status: "sleeping"}).Validate()
	if !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if err := (StatusRecord{Status: StatusOnline}).Validate(); err == nil || !strings.Contains(err.Error(), "userId") {
		t.Fatalf("expected missing userId error, got %v", err)
	}
}

func TestDecode_LastSeenFormats(t *testing.T) {
	t.Parallel()

	want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		name     string
		lastSeen string
		want     *time.Time
	}{
		{name: "rfc3339 millis", lastSeen: `"2024-05-01T10:00:00.000Z"`, want: &want},
		{name: "rfc3339 offset", lastSeen: `"2024-05-01T13:00:00+03:00"`, want: &want},
		{name: "no zone", lastSeen: `"2024-05-01T10:00:00"`, want: &want},
		{name: "space separator", lastSeen: `"2024-05-01 10:00:00"`, want: &want},
		{name: "space separator with fraction", lastSeen: `"2024-05-01 10:00:00.000"`, want: &want},
		{name: "unix millis", lastSeen: `1714557600000`, want: &want},
		{name: "empty string", lastSeen: `""`},
		{name: "null", lastSeen: `null`},
		{name: "garbage", lastSeen: `"yesterday"`},
		{name: "wrong type", lastSeen: `{}`},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			in := `{"type":"user_status","userId":7,"status":"offline","lastSeen":` + tc.lastSeen + `}`
			m, err := Decode([]byte(in))
			if err != nil {
				t.Fatalf("Decode(%s): %v", in, err)
			}
			us := m.(UserStatus)
			if us.UserID != 7 || us.Status != StatusOffline {
				t.Fatalf("unexpected record: %+v", us.StatusRecord)
			}
			switch {
			case tc.want == nil && us.LastSeen != nil:
				t.Fatalf("lastSeen=%v want=nil", us.LastSeen)
			case tc.want != nil && (us.LastSeen == nil || !us.LastSeen.Equal(*tc.want)):
				t.Fatalf("lastSeen=%v want=%v", us.LastSeen, tc.want)
			}
		})
	}
}

func TestDecode_ContactsStatusesKeepsGoodRecords(t *testing.T) {
	t.Parallel()

	in := `{"type":"contacts_statuses","statuses":[
		{"userId":1,"status":"online"},
		{"userId":2,"status":"offline","lastSeen":""},
		{"userId":"three","status":"online"},
		{"userId":4,"status":"away","lastSeen":"2024-05-01 10:00:00"}
	]}`
	m, err := Decode([]byte(in))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	cs, ok := m.(ContactsStatuses)
	if !ok {
		t.Fatalf("expected ContactsStatuses, got %T", m)
	}

	var ids []int64
	for _, r := range cs.Statuses {
		ids = append(ids, r.UserID)
	}
	if len(ids) != 3 || ids[0] != 1 || ids[1] != 2 || ids[2] != 4 {
		t.Fatalf("ids=%v want=[1 2 4]", ids)
	}
	if cs.Statuses[1].LastSeen != nil {
		t.Fatalf("empty lastSeen should be absent, got %v", cs.Statuses[1].LastSeen)
	}
	if cs.Statuses[2].LastSeen == nil {
		t.Fatalf("expected lastSeen for user 4")
	}
}
