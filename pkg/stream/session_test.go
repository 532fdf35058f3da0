// pkg/stream/session_test.go
package stream_test

import (
	"strings"
	"testing"

	"github.com/YaganovValera/nodestream/pkg/stream"
)

func TestSessionID_GroupID(t *testing.T) {
	s := stream.NewSessionID()
	if s.GroupID() != s.GroupID() {
		t.Error("GroupID must be deterministic")
	}
	if !strings.HasPrefix(s.GroupID(), "nodestream-session-") {
		t.Errorf("unexpected group id %q", s.GroupID())
	}
	if other := stream.NewSessionID(); other.GroupID() == s.GroupID() {
		t.Error("distinct sessions must map to distinct groups")
	}
}

func TestParseSessionID(t *testing.T) {
	s := stream.NewSessionID()
	got, err := stream.ParseSessionID(s.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != s {
		t.Errorf("expected %s, got %s", s, got)
	}
	if _, err := stream.ParseSessionID("not-a-session"); err == nil {
		t.Error("expected error for garbage input")
	}
	if !(stream.SessionID{}).IsZero() {
		t.Error("zero value must report IsZero")
	}
}

func TestTopicForEpoch_Isolation(t *testing.T) {
	topic := textTopic{kind: "events"}
	if topic.TopicForEpoch(4) != topic.TopicForEpoch(4) {
		t.Error("same epoch must yield the same topic")
	}
	if topic.TopicForEpoch(4) == topic.TopicForEpoch(5) {
		t.Error("different epochs must yield different topics")
	}
}
