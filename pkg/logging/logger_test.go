package logging

import (
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
)

func TestNewLoggerWithServiceStampsEntries(t *testing.T) {
	l := NewLoggerWithService("publisher")
	hook := test.NewLocal(l)
	l.SetOutput(NewDiscardLogger().Out)

	l.WithField("k", "v").Info("hello")

	entry := hook.LastEntry()
	if entry == nil {
		t.Fatal("expected an entry")
	}
	if entry.Data["service"] != "publisher" {
		t.Fatalf("expected service field, got %v", entry.Data)
	}
}
