package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"movingmen/internal/booking"
	"movingmen/internal/export"
	"movingmen/internal/models"
)

// Editing steps, in the order they are asked.
const (
	stepName    = "name"
	stepPhone   = "phone"
	stepFrom    = "from"
	stepTo      = "to"
	stepDate    = "date"
	stepSlot    = "slot"
	stepService = "service"
	stepNotes   = "notes"
	stepConfirm = "confirm"
)

const keepValue = "-"

const helpText = `Commands:
/search <name or phone> - find a booking
/new - start a new booking
/upcoming - list upcoming jobs
/export - upcoming jobs as a spreadsheet
/issues - writes that need a manual check
/back - drop what you are doing and go back to search

You can also just type a name or phone number to search.`

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if !b.isStaff(msg.From.ID) {
		zerolog.Ctx(ctx).Warn().Int64("user_id", msg.From.ID).Msg("Rejected message from non-staff user")
		b.reply(chatID, "This bot is for staff only.")
		return
	}

	s := b.loadSession(ctx, chatID)
	defer b.saveSession(ctx, s)

	text := strings.TrimSpace(msg.Text)
	if strings.HasPrefix(text, "/") {
		b.handleCommand(ctx, s, text)
		return
	}

	switch s.State {
	case models.StateEditing:
		b.handleFormInput(ctx, s, text)
	case models.StateSearch:
		if text == "" {
			return
		}
		b.search(ctx, s, text)
	default:
		b.reply(chatID, "Use the buttons above, or /back to start a new search.")
	}
}

func (b *Bot) handleCommand(ctx context.Context, s *models.Session, text string) {
	cmd, arg := splitCommand(text)
	switch cmd {
	case "/start", "/help":
		s.Reset()
		b.reply(s.ChatID, helpText)
	case "/search":
		if arg == "" {
			b.reply(s.ChatID, "Usage: /search <name or phone>")
			return
		}
		b.search(ctx, s, arg)
	case "/new":
		b.backToSearch(s)
		if err := b.ctrl.NewBooking(s, b.today()); err != nil {
			b.replyError(ctx, s.ChatID, err)
			return
		}
		b.reply(s.ChatID, fmt.Sprintf("New booking %s.", s.Draft.PONumber))
		s.Step = stepName
		b.askStep(s)
	case "/upcoming":
		b.sendUpcoming(ctx, s.ChatID, 0, 0)
	case "/export":
		b.sendExport(ctx, s.ChatID)
	case "/issues":
		b.sendIssues(ctx, s.ChatID)
	case "/back":
		b.back(ctx, s)
	default:
		b.reply(s.ChatID, "Unknown command.\n\n"+helpText)
	}
}

// backToSearch leaves whatever the session was doing. Back is allowed from
// every state.
func (b *Bot) backToSearch(s *models.Session) {
	if s.State != models.StateSearch {
		_ = b.ctrl.Back(s)
	}
}

func (b *Bot) back(ctx context.Context, s *models.Session) {
	if err := b.ctrl.Back(s); err != nil {
		b.replyError(ctx, s.ChatID, err)
		return
	}
	b.reply(s.ChatID, "Back to search. Type a name or phone number.")
}

func (b *Bot) search(ctx context.Context, s *models.Session, query string) {
	b.backToSearch(s)
	name, phone := parseQuery(query)

	found, err := b.ctrl.Search(ctx, s, name, phone, b.today())
	switch {
	case err == nil:
		b.sendBookingCard(s.ChatID, found)
	case errors.Is(err, booking.ErrNotFound) && s.State == models.StateEditing:
		b.reply(s.ChatID, fmt.Sprintf("No booking found for %q. Starting new booking %s.", query, s.Draft.PONumber))
		s.Step = stepName
		b.askStep(s)
	default:
		b.replyError(ctx, s.ChatID, err)
	}
}

func (b *Bot) handleFormInput(ctx context.Context, s *models.Session, text string) {
	d := s.Draft
	if d == nil {
		b.replyError(ctx, s.ChatID, booking.ErrNoDraft)
		return
	}
	keep := text == keepValue

	switch s.Step {
	case stepName:
		if !keep {
			d.Name = text
		}
		if strings.TrimSpace(d.Name) == "" {
			b.reply(s.ChatID, "Customer name is required.")
			return
		}
		s.Step = stepPhone
	case stepPhone:
		if !keep {
			d.Phone = text
		}
		s.Step = stepFrom
	case stepFrom:
		if !keep {
			d.FromAddress = text
		}
		s.Step = stepTo
	case stepTo:
		if !keep {
			d.ToAddress = text
		}
		s.Step = stepDate
	case stepNotes:
		if !keep {
			d.Notes = text
		}
		s.Step = stepConfirm
	default:
		b.reply(s.ChatID, "Please use the buttons above, or /back to stop editing.")
		return
	}
	b.askStep(s)
}

// askStep prompts for the session's current step.
func (b *Bot) askStep(s *models.Session) {
	d := s.Draft
	switch s.Step {
	case stepName:
		b.prompt(s.ChatID, "Customer name?", d.Name)
	case stepPhone:
		b.prompt(s.ChatID, "Phone number?", d.Phone)
	case stepFrom:
		b.prompt(s.ChatID, "Pick-up address?", d.FromAddress)
	case stepTo:
		b.prompt(s.ChatID, "Drop-off address?", d.ToAddress)
	case stepDate:
		month := b.today()
		if !d.Date.IsZero() && d.Date.After(month) {
			month = d.Date.In(b.loc)
		}
		text := "Pick the job date."
		if !d.Date.IsZero() {
			text += "\nCurrent: " + d.Date.In(b.loc).Format("Mon 2 Jan 2006")
		}
		b.replyWithKeyboard(s.ChatID, text, GenerateCalendarKeyboard(month, b.today()))
	case stepService:
		b.replyWithKeyboard(s.ChatID, "Which service?", GenerateServicesKeyboard(d.Service))
	case stepNotes:
		b.prompt(s.ChatID, "Notes?", d.Notes)
	case stepConfirm:
		b.replyWithKeyboard(s.ChatID, "Please check the booking:\n\n"+formatBooking(d, b.loc), confirmKeyboard())
	}
}

func (b *Bot) prompt(chatID int64, question, current string) {
	text := question
	if current != "" {
		text = fmt.Sprintf("%s\nCurrent: %s\nSend %s to keep it.", question, current, keepValue)
	}
	b.reply(chatID, text)
}

func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	_ = b.answerCallback(cq.ID)
	if cq.Message == nil || cq.Message.Chat == nil {
		return
	}
	if !b.isStaff(cq.From.ID) {
		zerolog.Ctx(ctx).Warn().Int64("user_id", cq.From.ID).Msg("Rejected callback from non-staff user")
		return
	}
	data := cq.Data
	if data == "noop" {
		return
	}

	chatID := cq.Message.Chat.ID
	s := b.loadSession(ctx, chatID)
	defer b.saveSession(ctx, s)

	switch {
	case data == "back":
		b.back(ctx, s)
	case strings.HasPrefix(data, "view:"):
		row, err := strconv.Atoi(strings.TrimPrefix(data, "view:"))
		if err != nil {
			return
		}
		b.backToSearch(s)
		found, err := b.ctrl.Select(ctx, s, row)
		if err != nil {
			b.replyError(ctx, chatID, err)
			return
		}
		b.sendBookingCard(chatID, found)
	case strings.HasPrefix(data, "upc:"):
		page, err := strconv.Atoi(strings.TrimPrefix(data, "upc:"))
		if err != nil {
			return
		}
		b.sendUpcoming(ctx, chatID, cq.Message.MessageID, page)
	case data == "rebook":
		if err := b.ctrl.Rebook(s); err != nil {
			b.replyError(ctx, chatID, err)
			return
		}
		b.reply(chatID, fmt.Sprintf("Rebooking %s. Send %s to keep any value.", s.Draft.PONumber, keepValue))
		s.Step = stepName
		b.askStep(s)
	case data == "cancel":
		if err := b.ctrl.RequestCancel(s); err != nil {
			b.replyError(ctx, chatID, err)
			return
		}
		b.replyWithKeyboard(chatID, fmt.Sprintf("Cancel booking %s for %s? This deletes the calendar event and clears the row.",
			s.Current.PONumber, s.Current.Name), cancelKeyboard())
	case data == "cancel:yes":
		res, err := b.ctrl.ConfirmCancel(ctx, s)
		if err != nil {
			b.replyError(ctx, chatID, err)
			return
		}
		text := "Booking cancelled."
		if res != nil && res.Booking != nil {
			text = fmt.Sprintf("Booking %s cancelled.", res.Booking.PONumber)
		}
		b.reply(chatID, withWarning(text, res))
	case data == "cancel:no":
		if err := b.ctrl.DeclineCancel(s); err != nil {
			b.replyError(ctx, chatID, err)
			return
		}
		b.sendBookingCard(chatID, s.Current)
	case strings.HasPrefix(data, "resolve:"):
		b.resolveIssue(ctx, chatID, strings.TrimPrefix(data, "resolve:"))
	default:
		b.handleEditingCallback(ctx, s, cq.Message.MessageID, data)
	}
}

// handleEditingCallback covers the buttons of the editing form.
func (b *Bot) handleEditingCallback(ctx context.Context, s *models.Session, messageID int, data string) {
	if s.State != models.StateEditing || s.Draft == nil {
		b.reply(s.ChatID, "This form is no longer active. Use /new or /search.")
		return
	}
	d := s.Draft

	switch {
	case data == "pickdate":
		s.Step = stepDate
		b.askStep(s)
	case strings.HasPrefix(data, "month:"):
		month, err := parseMonth(strings.TrimPrefix(data, "month:"), b.loc)
		if err != nil {
			return
		}
		b.send(tgbotapi.NewEditMessageReplyMarkup(s.ChatID, messageID, GenerateCalendarKeyboard(month, b.today())))
	case strings.HasPrefix(data, "date:"):
		date, err := time.ParseInLocation(models.DateLayout, strings.TrimPrefix(data, "date:"), b.loc)
		if err != nil {
			return
		}
		b.showSlots(ctx, s, date)
	case strings.HasPrefix(data, "slot:"):
		hour, err := strconv.Atoi(strings.TrimPrefix(data, "slot:"))
		if err != nil || d.Date.IsZero() {
			return
		}
		d.SetStart(hour)
		s.Step = stepService
		b.askStep(s)
	case strings.HasPrefix(data, "svc:"):
		n, err := strconv.Atoi(strings.TrimPrefix(data, "svc:"))
		if err != nil || n < 0 || n >= len(models.Services) {
			return
		}
		d.Service = models.Services[n]
		s.Step = stepNotes
		b.askStep(s)
	case data == "submit":
		b.submit(ctx, s)
	}
}

func (b *Bot) showSlots(ctx context.Context, s *models.Session, date time.Time) {
	available, err := b.ctrl.Slots(ctx, s, date, b.today())
	if err != nil {
		b.replyError(ctx, s.ChatID, err)
		if errors.Is(err, booking.ErrNoSlotsAvailable) {
			s.Step = stepDate
			b.askStep(s)
		}
		return
	}
	s.Step = stepSlot
	b.replyWithKeyboard(s.ChatID,
		fmt.Sprintf("Free start times on %s:", s.Draft.Date.In(b.loc).Format("Mon 2 Jan 2006")),
		GenerateSlotsKeyboard(available))
}

func (b *Bot) submit(ctx context.Context, s *models.Session) {
	d := s.Draft
	if d.Start.IsZero() {
		s.Step = stepDate
		b.askStep(s)
		return
	}

	res, err := b.ctrl.Submit(ctx, s, d.Start.In(b.loc).Hour(), b.today())
	switch {
	case err == nil:
		text := fmt.Sprintf("Saved booking %s for %s, %s.",
			res.Booking.PONumber, res.Booking.Name, formatWindow(res.Booking, b.loc))
		b.reply(s.ChatID, withWarning(text, res))
	case errors.Is(err, booking.ErrSlotUnavailable):
		b.replyError(ctx, s.ChatID, err)
		b.showSlots(ctx, s, d.Date)
	case errors.Is(err, booking.ErrNoSlotsAvailable):
		b.replyError(ctx, s.ChatID, err)
		s.Step = stepDate
		b.askStep(s)
	default:
		b.replyError(ctx, s.ChatID, err)
	}
}

func (b *Bot) sendExport(ctx context.Context, chatID int64) {
	upcoming, err := b.ctrl.Upcoming(ctx, b.today())
	if err != nil {
		b.replyError(ctx, chatID, err)
		return
	}
	data, err := export.BookingsFile(upcoming)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("Failed to build export")
		b.reply(chatID, "Could not build the spreadsheet.")
		return
	}
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{
		Name:  fmt.Sprintf("upcoming-%s.xlsx", b.today().Format(models.DateLayout)),
		Bytes: data,
	})
	doc.Caption = fmt.Sprintf("%d upcoming bookings", len(upcoming))
	b.send(doc)
}

func (b *Bot) sendIssues(ctx context.Context, chatID int64) {
	if b.issues == nil {
		b.reply(chatID, "The operation journal is not enabled.")
		return
	}
	entries, err := b.issues.Unresolved(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("Failed to read journal")
		b.reply(chatID, "Could not read the operation journal.")
		return
	}
	if len(entries) == 0 {
		b.reply(chatID, "Nothing needs attention.")
		return
	}
	text, kb := formatIssues(entries, b.loc)
	b.replyWithKeyboard(chatID, text, kb)
}

func (b *Bot) resolveIssue(ctx context.Context, chatID int64, raw string) {
	if b.issues == nil {
		return
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return
	}
	if err := b.issues.Resolve(ctx, id); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Int64("entry_id", id).Msg("Failed to resolve journal entry")
		b.reply(chatID, fmt.Sprintf("Could not mark #%d as resolved.", id))
		return
	}
	b.reply(chatID, fmt.Sprintf("#%d marked as resolved.", id))
}

func withWarning(text string, res *booking.Result) string {
	if res == nil || res.Warning == nil {
		return text
	}
	return text + "\n\n⚠️ " + booking.UserMessage(res.Warning)
}
