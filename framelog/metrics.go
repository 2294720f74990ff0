package framelog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var jordFrameJournalDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "frame_journal_dropped_entries_total",
	Help: "The total number of frame journal entries dropped because the writer could not keep up.",
})

func instrumentEntryDropped() {
	jordFrameJournalDroppedTotal.Inc()
}
