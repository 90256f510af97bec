package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mpoliveira/medtrack/internal/models"
)

func (a *App) cmdLogin(ctx context.Context) {
	email, err := getSimpleText(a.reader, "Email", os.Stdout)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	password, err := getPassword(os.Stdout)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	if err := a.auth.Login(ctx, email, password); err != nil {
		fmt.Println("login failed:", err)
		return
	}
	fmt.Println("logged in as", a.auth.Role())
}

func (a *App) cmdLogout(ctx context.Context) {
	if err := a.auth.Logout(ctx); err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("logged out")
}

func (a *App) cmdListMedications(ctx context.Context) {
	meds, err := a.medications.List(ctx)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	if len(meds) == 0 {
		fmt.Println("no medications")
		return
	}
	for _, m := range meds {
		fmt.Printf("%s  %-30s %-15s %s\n", m.UUID, m.Name, m.Class, m.SyncStatus)
	}
}

func (a *App) cmdAddMedication(ctx context.Context) {
	name, err := getSimpleText(a.reader, "Name", os.Stdout)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	desc, _ := getSimpleText(a.reader, "Description", os.Stdout)
	class, _ := getSimpleText(a.reader, "Class", os.Stdout)

	m, err := a.medications.Create(ctx, models.MedicationInput{Name: name, Description: desc, Class: class})
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("created", m.UUID)
}

func (a *App) cmdDeleteMedication(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Println("usage: delmed <uuid>")
		return
	}
	ok, err := a.medications.Delete(ctx, args[0])
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	if !ok {
		fmt.Println("no such medication")
		return
	}
	fmt.Println("deleted")
}

func (a *App) cmdListAdministrations(ctx context.Context) {
	items, err := a.administrations.List(ctx)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	if len(items) == 0 {
		fmt.Println("no schedule entries")
		return
	}
	for _, s := range items {
		due := ""
		if s.NextDueAt != nil {
			due = " next " + s.NextDueAt.Local().Format("15:04")
		}
		fmt.Printf("%s  %-30s %s %s%s %s\n", s.UUID, s.MedicationName, s.TimeOfDay, s.Dosage, due, s.SyncStatus)
	}
}

func (a *App) cmdAddAdministration(ctx context.Context) {
	medUUID, err := getSimpleText(a.reader, "Medication uuid", os.Stdout)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	timeOfDay, _ := getSimpleText(a.reader, "Time of day (e.g. 08:00)", os.Stdout)
	dosage, _ := getSimpleText(a.reader, "Dosage", os.Stdout)
	freq, _ := getSimpleText(a.reader, "Frequency (e.g. 8h)", os.Stdout)

	s, err := a.administrations.Create(ctx, models.AdministrationInput{
		ClientID:       a.auth.UserID(),
		MedicationUUID: medUUID,
		TimeOfDay:      timeOfDay,
		Dosage:         dosage,
		Frequency:      freq,
		Active:         true,
	})
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("created", s.UUID)
}

func (a *App) cmdTake(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Println("usage: take <uuid>")
		return
	}
	if err := a.administrations.MarkTaken(ctx, args[0], time.Now()); err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("recorded")
}

func (a *App) cmdListTips(ctx context.Context) {
	tips, err := a.tips.List(ctx)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	for _, t := range tips {
		fmt.Printf("%s  %s (%s)\n", t.UUID, t.Text, t.AuthorName)
	}
}

func (a *App) cmdAddTip(ctx context.Context) {
	text, err := getSimpleText(a.reader, "Tip text", os.Stdout)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	t, err := a.tips.Create(ctx, models.TipInput{Text: text, AuthorID: a.auth.UserID()})
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("created", t.UUID)
}

func (a *App) cmdListFAQs(ctx context.Context) {
	faqs, err := a.faqs.List(ctx)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	for _, f := range faqs {
		fmt.Printf("Q: %s\nA: %s\n\n", f.Question, f.Answer)
	}
}

func (a *App) cmdListInteractions(ctx context.Context) {
	items, err := a.interactions.List(ctx)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	for _, i := range items {
		fmt.Printf("%s x %s [%s]: %s\n", i.MedicationAName, i.MedicationBName, i.Severity, i.Description)
	}
}

func (a *App) cmdStatus() {
	st := a.engine.Status()
	fmt.Printf("online=%v syncing=%v pending=%d progress=%d%%\n", st.IsOnline, st.IsSyncing, st.PendingCount, st.Progress)
	if st.LastSyncAt != nil {
		fmt.Println("last sync:", st.LastSyncAt.Local().Format(time.RFC3339))
	}
	if st.Err != nil {
		fmt.Println("last error:", st.Err)
	}
}
