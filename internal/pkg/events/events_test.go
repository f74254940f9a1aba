package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFanout_DeliversInOrderAndStamps(t *testing.T) {
	var got []string
	record := func(name string) Notifier {
		return NotifierFunc(func(_ context.Context, ev Event) {
			assert.False(t, ev.OccurredAt.IsZero())
			got = append(got, name+":"+ev.Type)
		})
	}

	f := Fanout{record("a"), nil, record("b")}
	f.Notify(context.Background(), Event{Type: TypeProjectFunded, ProjectID: "p1"})

	assert.Equal(t, []string{"a:" + TypeProjectFunded, "b:" + TypeProjectFunded}, got)
	Discard.Notify(context.Background(), Event{Type: TypeInvoicePaid})
}
