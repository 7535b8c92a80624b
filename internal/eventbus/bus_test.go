package eventbus

import "testing"

func TestSubscribePrefixFilter(t *testing.T) {
	t.Parallel()
	b := New()
	cronCh, unsubCron := b.Subscribe(4, "cron.")
	allCh, unsubAll := b.Subscribe(4)
	defer unsubAll()

	b.Publish(Event{Type: CronFired, Data: "a"})
	b.Publish(Event{Type: CommandHandled, Data: "b"})

	if e := <-cronCh; e.Type != CronFired || e.Time.IsZero() {
		t.Fatalf("cron subscriber got %+v", e)
	}
	select {
	case e := <-cronCh:
		t.Fatalf("cron subscriber got unexpected %+v", e)
	default:
	}
	if len(allCh) != 2 {
		t.Fatalf("all subscriber buffered %d events, want 2", len(allCh))
	}

	unsubCron()
	unsubCron()
	b.Publish(Event{Type: CronFailed})
	if _, ok := <-cronCh; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()
	for i := 0; i < 10; i++ {
		b.Publish(Event{Type: CronFired})
	}
	if len(ch) != 1 {
		t.Fatalf("buffered = %d, want 1", len(ch))
	}
}
