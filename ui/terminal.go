// Package ui renders the session read model on a terminal.
// It only observes the session, it never changes its state.
package ui

import (
	"chatter/domain"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
)

// Alerter prints alerts on a terminal. Safe for concurrent use.
type Alerter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewAlerter(w io.Writer) *Alerter {
	return &Alerter{w: w}
}

func (a *Alerter) Show(kind domain.AlertKind, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch kind {
	case domain.AlertSuccess:
		_, _ = fmt.Fprintln(a.w, color.Green.Sprint("✔ "+message))
	default:
		_, _ = fmt.Fprintln(a.w, color.Red.Sprint("✖ "+message))
	}
}

// Renderer prints the messages of a view it has not printed yet.
// A new room, or a changed state of a printed message, reprints the room.
type Renderer struct {
	mu      sync.Mutex
	w       io.Writer
	self    domain.ParticipantID
	room    domain.RoomID
	printed map[domain.MessageID]domain.DeliveryState
	conn    domain.ConnectionState
}

func NewRenderer(w io.Writer, self domain.ParticipantID) *Renderer {
	return &Renderer{w: w, self: self, printed: make(map[domain.MessageID]domain.DeliveryState)}
}

func (r *Renderer) Render(view domain.View) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if view.Connection != r.conn {
		r.conn = view.Connection
		_, _ = fmt.Fprintln(r.w, color.Gray.Sprintf("-- %s --", view.Connection))
	}
	if view.Room == nil {
		r.room = ""
		return
	}
	if view.Room.ID != r.room || r.changed(view.Messages) {
		r.room = view.Room.ID
		r.printed = make(map[domain.MessageID]domain.DeliveryState)
		_, _ = fmt.Fprintln(r.w, color.Bold.Sprintf("# %s", view.Room.Name))
	}
	if !view.Loaded {
		_, _ = fmt.Fprintln(r.w, color.Gray.Sprint("loading..."))
		return
	}
	if len(view.Messages) == 0 && len(r.printed) == 0 {
		_, _ = fmt.Fprintln(r.w, color.Gray.Sprint("No messages yet"))
	}
	for _, m := range view.Messages {
		if _, ok := r.printed[m.ID]; ok {
			continue
		}
		r.printed[m.ID] = m.State
		_, _ = fmt.Fprintln(r.w, FormatMessage(m, r.self))
	}
}

// changed reports a printed message whose delivery state moved or
// that left the sequence, a reconciled local send for instance.
func (r *Renderer) changed(messages []domain.Message) bool {
	current := lo.SliceToMap(messages, func(m domain.Message) (domain.MessageID, domain.DeliveryState) {
		return m.ID, m.State
	})
	for id, printed := range r.printed {
		if state, ok := current[id]; !ok || state != printed {
			return true
		}
	}
	return false
}

func FormatMessage(m domain.Message, self domain.ParticipantID) string {
	author := m.SenderDisplayName()
	if m.SenderID == self {
		author = color.Cyan.Sprint(author)
	} else {
		author = color.Yellow.Sprint(author)
	}
	line := fmt.Sprintf("[%s] %s: %s", m.SentAt.Local().Format("15:04"), author, m.Content)
	switch m.State {
	case domain.Pending:
		return color.Gray.Sprint(line + " (sending)")
	case domain.Failed:
		return color.Red.Sprintf("%s (failed: %s, /retry %s)", line, m.Reason, m.ID)
	default:
		return line
	}
}

// RenderRooms prints the room list as a table, the active room is marked.
func RenderRooms(w io.Writer, rooms []domain.Room, active *domain.Room) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"#", "Room", "ID"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("\t")
	for i, room := range rooms {
		name := room.Name
		if active != nil && active.ID == room.ID {
			name = "* " + name
		}
		table.Append([]string{strconv.Itoa(i + 1), name, string(room.ID)})
	}
	table.Render()
}

type Command struct {
	Name string
	Arg  string
}

// ParseCommand splits "/join 2" into a command. Lines without a leading
// slash are messages and yield ok=false.
func ParseCommand(line string) (Command, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return Command{}, false
	}
	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	return Command{Name: strings.ToLower(name), Arg: strings.TrimSpace(arg)}, true
}

// PickRoom resolves a room by its 1-based position, its id or its name.
func PickRoom(rooms []domain.Room, ref string) (domain.Room, bool) {
	if i, err := strconv.Atoi(ref); err == nil && i >= 1 && i <= len(rooms) {
		return rooms[i-1], true
	}
	for _, room := range rooms {
		if string(room.ID) == ref || strings.EqualFold(room.Name, ref) {
			return room, true
		}
	}
	return domain.Room{}, false
}
