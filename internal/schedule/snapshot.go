package schedule

import (
	"sort"
	"time"
)

type Snapshot struct {
	Running  bool        `json:"running"`
	Timezone string      `json:"timezone"`
	Entries  []EntryInfo `json:"entries"`
}

type EntryInfo struct {
	ScheduleID  string    `json:"scheduleId"`
	Cron        string    `json:"cron"`
	Template    string    `json:"template"`
	Subject     string    `json:"subject"`
	Recipient   string    `json:"recipient"`
	InstalledAt time.Time `json:"installedAt"`
	Next        time.Time `json:"next,omitempty"`
	Prev        time.Time `json:"prev,omitempty"`
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := Snapshot{
		Running:  r.started && !r.stopped,
		Timezone: r.loc.String(),
		Entries:  make([]EntryInfo, 0, len(r.handles)),
	}
	for id, h := range r.handles {
		it := EntryInfo{
			ScheduleID:  id,
			Cron:        h.sched.Cron,
			Template:    h.sched.Template.Key,
			Subject:     h.sched.Subject.Name,
			Recipient:   h.sched.Recipient.Name,
			InstalledAt: h.installedAt,
		}
		if out.Running {
			e := r.c.Entry(h.entryID)
			it.Next = e.Next
			it.Prev = e.Prev
		} else if runs, err := NextRuns(h.sched.Cron, time.Now(), r.loc, 1); err == nil && len(runs) == 1 {
			it.Next = runs[0]
		}
		out.Entries = append(out.Entries, it)
	}
	sort.Slice(out.Entries, func(i, j int) bool { return out.Entries[i].ScheduleID < out.Entries[j].ScheduleID })
	return out
}
