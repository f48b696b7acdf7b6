package bot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"uesbot/internal/compose"
	"uesbot/internal/cycle"
	"uesbot/internal/ics"
	appLog "uesbot/internal/log"
	"uesbot/internal/model"
	"uesbot/internal/quiet"
	"uesbot/internal/state"
)

const (
	// DefaultSleepHours is used by the sleep command without arguments.
	DefaultSleepHours = 8
	maxSleepHours     = 24 * 365
	maxIntervalMin    = 24 * 60

	busyText      = "Ya hay un scraping en curso. Intenta de nuevo en unos segundos."
	stillBusyText = "⌛ El scraping sigue ocupado tras esperar %s. Intenta de nuevo más tarde."
	coolText = "⏳ Espera unos segundos antes de forzar otro scraping."
)

var commandTable = []struct {
	names []string
	fn    handler
}{
	{[]string{"dormir", "sleep"}, cmdSleep},
	{[]string{"despertar", "wake"}, cmdWake},
	{[]string{"resumen", "summary"}, cmdSummary},
	{[]string{"urgente", "urgent"}, cmdUrgent},
	{[]string{"pendientes", "pending"}, cmdPending},
	{[]string{"semana", "calendar"}, cmdWeek},
	{[]string{"ics", "export"}, cmdICS},
	{[]string{"estado", "status"}, cmdStatus},
	{[]string{"silencio", "quiet"}, cmdQuiet},
	{[]string{"intervalo", "interval"}, cmdInterval},
	{[]string{"help", "ayuda", "start"}, cmdHelp},
}

const helpText = "Comandos disponibles:\n" +
	"/dormir <horas> - Silencia notificaciones automáticas por X horas (default 8).\n" +
	"/despertar - Cancela el modo dormido.\n" +
	"/resumen - Fuerza scraping y envía resumen completo.\n" +
	"/urgente - Fuerza scraping y muestra urgentes/vencidos no entregados.\n" +
	"/pendientes - Fuerza scraping y muestra tareas sin enviar.\n" +
	"/semana - Muestra el calendario de los próximos 7 días.\n" +
	"/ics - Envía un archivo .ics con las entregas pendientes.\n" +
	"/estado - Muestra estado operativo del bot.\n" +
	"/silencio <HH:MM> <HH:MM> - Cambia quiet hours en caliente (/silencio off para desactivar).\n" +
	"/intervalo <minutos> - Cambia frecuencia del scraping automático.\n" +
	"/help - Muestra esta ayuda."

func cmdSleep(ctx context.Context, b *Bot, chatID int64, args []string) {
	hours := float64(DefaultSleepHours)
	if len(args) > 0 {
		h, err := strconv.ParseFloat(strings.ReplaceAll(args[0], ",", "."), 64)
		if err != nil || math.IsNaN(h) || math.IsInf(h, 0) || h <= 0 || h > maxSleepHours {
			b.reply(ctx, chatID, "Uso: /dormir <horas> (ej. /dormir 4)")
			return
		}
		hours = h
	}

	var until time.Time
	_, err := b.cycles.Update(ctx, b.opts.LockWait, func(st *state.State) error {
		until = st.SleepFor(b.opts.Now(), time.Duration(hours*float64(time.Hour)))
		return nil
	})
	if err != nil {
		b.reply(ctx, chatID, b.failureText("/dormir", err))
		return
	}
	b.reply(ctx, chatID, fmt.Sprintf("💤 Dormido por %gh (hasta %s). Usa /despertar para cancelar.",
		hours, compose.FormatTime(&until, b.opts.Location)))
}

func cmdWake(ctx context.Context, b *Bot, chatID int64, _ []string) {
	_, err := b.cycles.Update(ctx, b.opts.LockWait, func(st *state.State) error {
		st.CancelSleep()
		return nil
	})
	if err != nil {
		b.reply(ctx, chatID, b.failureText("/despertar", err))
		return
	}
	b.reply(ctx, chatID, "☀️ Modo dormido cancelado. Bot activo.")
}

// scrape forces a cycle for a view command. Delivery problems of the cycle
// itself do not hide the fetched events.
func (b *Bot) scrape(ctx context.Context, chatID int64, command, progress string) ([]model.Event, bool) {
	if !b.allowScrape() {
		b.reply(ctx, chatID, coolText)
		return nil, false
	}
	b.reply(ctx, chatID, progress)

	res, err := b.cycles.RunNow(ctx, b.opts.LockWait)
	switch {
	case err == nil:
	case errors.Is(err, cycle.ErrDelivery):
		appLog.Warn("forced cycle had delivery errors", "command", command, "err", err)
	default:
		b.reply(ctx, chatID, b.failureText(command, err))
		return nil, false
	}
	return res.All, true
}

func (b *Bot) show(ctx context.Context, kind, text string) {
	if err := b.cycles.Deliver(ctx, kind, text); err != nil {
		appLog.Error("command output not delivered", err, "kind", kind)
	}
}

func cmdSummary(ctx context.Context, b *Bot, chatID int64, _ []string) {
	events, ok := b.scrape(ctx, chatID, "/resumen", "Ejecutando scraping y preparando resumen...")
	if !ok {
		return
	}
	b.show(ctx, "summary", compose.Summary(events, b.opts.Now(), compose.SummaryOptions{
		Location:    b.opts.Location,
		UrgentHours: b.opts.UrgentHours,
		MaxLines:    b.opts.MaxLines,
	}))
}

func cmdUrgent(ctx context.Context, b *Bot, chatID int64, _ []string) {
	events, ok := b.scrape(ctx, chatID, "/urgente", "Buscando urgentes/vencidos no entregados...")
	if !ok {
		return
	}
	b.show(ctx, "urgent", compose.UrgentList(events, b.opts.Now(), b.opts.UrgentHours, b.opts.MaxLines))
}

func cmdPending(ctx context.Context, b *Bot, chatID int64, _ []string) {
	events, ok := b.scrape(ctx, chatID, "/pendientes", "Buscando pendientes (sin enviar)...")
	if !ok {
		return
	}
	b.show(ctx, "pending", compose.PendingList(events, b.opts.Now(), b.opts.MaxLines))
}

func cmdWeek(ctx context.Context, b *Bot, chatID int64, _ []string) {
	events, err := b.cycles.Snapshot(ctx)
	if err != nil {
		b.reply(ctx, chatID, b.failureText("/semana", err))
		return
	}
	b.show(ctx, "calendar", compose.WeeklyCalendar(events, b.opts.Now(), b.opts.Location))
}

func cmdICS(ctx context.Context, b *Bot, chatID int64, _ []string) {
	events, err := b.cycles.Snapshot(ctx)
	if err != nil {
		b.reply(ctx, chatID, b.failureText("/ics", err))
		return
	}
	days := b.opts.DaysAhead
	if days <= 0 {
		days = ics.DefaultDaysAhead
	}
	now := b.opts.Now()
	data, count := ics.Export(events, now, days)
	if count == 0 {
		b.reply(ctx, chatID, fmt.Sprintf("No hay entregas pendientes en los próximos %d días.", days))
		return
	}
	caption := fmt.Sprintf("📅 %d entregas pendientes (próximos %d días)", count, days)
	if err := b.msg.SendDocument(ctx, ics.Filename(now, b.opts.Location), data, caption); err != nil {
		appLog.Error("ics document not sent", err)
		b.reply(ctx, chatID, b.failureText("/ics", err))
	}
}

func cmdStatus(ctx context.Context, b *Bot, chatID int64, _ []string) {
	st, err := b.cycles.State(ctx)
	if err != nil {
		b.reply(ctx, chatID, b.failureText("/estado", err))
		return
	}

	v := compose.StatusView{
		Quiet:             st.QuietWindow(b.opts.Quiet).String(),
		IntervalMinutes:   int(b.sched.Interval() / time.Minute),
		Tracked:           len(st.Events),
		LastRun:           st.LastRun,
		LastError:         st.LastError,
		ConsecutiveErrors: st.ConsecutiveErrors,
	}
	if st.Sleeping(b.opts.Now()) {
		v.SleepUntil = st.SleepUntil
	}
	if next := b.sched.Next(); !next.IsZero() {
		v.NextRun = &next
	}
	b.replyHTML(ctx, chatID, compose.Status(v, b.opts.Location))
}

func cmdQuiet(ctx context.Context, b *Bot, chatID int64, args []string) {
	var start, end string
	switch {
	case len(args) == 1 && strings.EqualFold(args[0], "off"):
	case len(args) == 2:
		start, end = args[0], args[1]
		for _, v := range args {
			if _, err := quiet.ParseClock(v); err != nil {
				b.reply(ctx, chatID, err.Error())
				return
			}
		}
	default:
		b.reply(ctx, chatID, "Uso: /silencio <HH:MM> <HH:MM> (ej. /silencio 22:00 07:00)")
		return
	}

	_, err := b.cycles.Update(ctx, b.opts.LockWait, func(st *state.State) error {
		return st.SetQuiet(start, end)
	})
	if err != nil {
		b.reply(ctx, chatID, b.failureText("/silencio", err))
		return
	}
	if start == "" {
		b.reply(ctx, chatID, "🔕 Quiet hours desactivadas.")
		return
	}
	b.reply(ctx, chatID, fmt.Sprintf("🔕 Quiet hours actualizadas: %s - %s", start, end))
}

func cmdInterval(ctx context.Context, b *Bot, chatID int64, args []string) {
	if len(args) != 1 {
		b.reply(ctx, chatID, "Uso: /intervalo <minutos> (ej. /intervalo 60)")
		return
	}
	minutes, err := strconv.Atoi(args[0])
	if err != nil {
		b.reply(ctx, chatID, "El intervalo debe ser un número entero de minutos.")
		return
	}
	if minutes < 1 || minutes > maxIntervalMin {
		b.reply(ctx, chatID, "Rango válido: 1 a 1440 minutos.")
		return
	}

	// Persist first: the reschedule triggers a cycle that takes the lock.
	if _, err := b.cycles.Update(ctx, b.opts.LockWait, func(st *state.State) error {
		st.IntervalMinutes = minutes
		return nil
	}); err != nil {
		b.reply(ctx, chatID, "No se pudo actualizar el intervalo: "+err.Error())
		return
	}
	if err := b.sched.SetInterval(time.Duration(minutes) * time.Minute); err != nil {
		b.reply(ctx, chatID, "No se pudo actualizar el intervalo: "+err.Error())
		return
	}
	b.reply(ctx, chatID, fmt.Sprintf("⏱️ Intervalo actualizado a %d minutos.", minutes))
}

func cmdHelp(ctx context.Context, b *Bot, chatID int64, _ []string) {
	b.reply(ctx, chatID, helpText)
}

func (b *Bot) failureText(command string, err error) string {
	switch {
	case errors.Is(err, cycle.ErrStillBusy):
		return fmt.Sprintf(stillBusyText, b.opts.LockWait)
	case errors.Is(err, cycle.ErrBusy):
		return busyText
	}
	return fmt.Sprintf("No se pudo ejecutar %s: %v", command, err)
}
