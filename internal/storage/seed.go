package storage

import (
	"context"
	"errors"
	"fmt"
)

// SeedOptions describes the default recipient and subject created by Seed.
type SeedOptions struct {
	RecipientName string
	Phone         string
	Timezone      string
	SubjectName   string
	SubjectKind   string
}

func (o SeedOptions) withDefaults() SeedOptions {
	if o.RecipientName == "" {
		o.RecipientName = "Owner"
	}
	if o.Phone == "" {
		o.Phone = "+6281234567890"
	}
	if o.Timezone == "" {
		o.Timezone = "Asia/Jakarta"
	}
	if o.SubjectName == "" {
		o.SubjectName = "Obi"
	}
	if o.SubjectKind == "" {
		o.SubjectKind = "Betta"
	}
	return o
}

// SeedResult reports what Seed created. Existing rows are reused.
type SeedResult struct {
	Recipient        Recipient
	Subject          Subject
	Templates        []Template
	SchedulesCreated int
}

// DefaultTemplates are the reminder variants installed by Seed.
var DefaultTemplates = []Template{
	{Key: "daily", Title: "HARIAN - Obi 🐠", Body: "1) Cek perilaku (aktif? responsif?)\n2) Cek air (bau/keruh/lapisan?)\n3) Pakan: 1-2 butir pelet (1x)\n\nBalas: SELESAI / TUNDA / CATAT:..."},
	{Key: "bi_daily", Title: "GANTI AIR - Obi (30-40%) 💧", Body: "• Air baru suhu sama & diendapkan\n• Jangan aduk dasar agresif\n\nBalas: SELESAI / TUNDA"},
	{Key: "weekly", Title: "MINGGUAN - Obi 🧹", Body: "• Sedot kotoran sela kerikil\n• Cek tanaman (pangkas daun rusak)\n• Evaluasi ketapang (angkat jika lembek)\n\nBalas: SELESAI / TUNDA"},
	{Key: "bi_weekly", Title: "2 MINGGU - Obi (±50%) 🔄", Body: "• Ganti air ±50%\n• Tata ulang ringan tanaman/dekor\n• Reset mikro\n\nBalas: SELESAI / TUNDA"},
	{Key: TemplateKeyEmergency, Title: "⚠️ DARURAT - Obi", Body: "• Ganti air 40% SEGERA\n• Angkat ketapang jika ragu\n• Pantau: sering ke permukaan / diam lama / air bau\n\nBalas: SELESAI"},
}

// DefaultSchedules maps template keys to their seeded cron cadence.
var DefaultSchedules = []struct {
	TemplateKey string
	Cron        string
}{
	{"daily", "0 9 * * *"},
	{"bi_daily", "0 9 */2 * *"},
	{"weekly", "0 10 * * 0"},
	{"bi_weekly", "0 10 1,15 * *"},
}

// Seed idempotently creates the default recipient, subject, templates and
// schedules. Templates are upserted by key; schedules are only created when
// no schedule binds the same recipient, subject and template.
func Seed(ctx context.Context, st Store, opts SeedOptions) (SeedResult, error) {
	opts = opts.withDefaults()
	var res SeedResult

	r, err := st.FindRecipientByPhone(ctx, opts.Phone)
	if errors.Is(err, ErrNotFound) {
		r, err = st.CreateRecipient(ctx, Recipient{Name: opts.RecipientName, Phone: opts.Phone, Timezone: opts.Timezone})
	}
	if err != nil {
		return res, fmt.Errorf("seed recipient: %w", err)
	}
	res.Recipient = r

	subjects, err := st.ListSubjects(ctx, r.ID)
	if err != nil {
		return res, fmt.Errorf("seed subject: %w", err)
	}
	for _, s := range subjects {
		if s.Name == opts.SubjectName {
			res.Subject = s
			break
		}
	}
	if res.Subject.ID == "" {
		res.Subject, err = st.CreateSubject(ctx, Subject{RecipientID: r.ID, Name: opts.SubjectName, Kind: opts.SubjectKind})
		if err != nil {
			return res, fmt.Errorf("seed subject: %w", err)
		}
	}

	byKey := map[string]Template{}
	for _, t := range DefaultTemplates {
		saved, err := st.UpsertTemplate(ctx, t)
		if err != nil {
			return res, fmt.Errorf("seed template %s: %w", t.Key, err)
		}
		byKey[saved.Key] = saved
		res.Templates = append(res.Templates, saved)
	}

	existing, err := st.ListSchedules(ctx)
	if err != nil {
		return res, fmt.Errorf("seed schedules: %w", err)
	}
	for _, ds := range DefaultSchedules {
		tpl := byKey[ds.TemplateKey]
		found := false
		for _, sc := range existing {
			if sc.RecipientID == r.ID && sc.SubjectID == res.Subject.ID && sc.TemplateID == tpl.ID {
				found = true
				break
			}
		}
		if found {
			continue
		}
		if _, err := st.CreateSchedule(ctx, Schedule{
			RecipientID: r.ID,
			SubjectID:   res.Subject.ID,
			TemplateID:  tpl.ID,
			Cron:        ds.Cron,
			Enabled:     true,
		}); err != nil {
			return res, fmt.Errorf("seed schedule %s: %w", ds.TemplateKey, err)
		}
		res.SchedulesCreated++
	}
	return res, nil
}
