package main

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"s7link/config"
	"s7link/logging"
	"s7link/s7"
	"s7link/s7addr"
	"s7link/tagcache"
)

// sinkOptions configures the optional Redis/Kafka mirroring for every PLC's
// tagcache.Cache.
type sinkOptions struct {
	redisAddr     string
	redisPassword string
	redisDB       int
	kafkaBrokers  []string
	kafkaTopic    string
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// plcMonitor holds the live connection and cache for one configured PLC.
type plcMonitor struct {
	cfg    config.PLCConfig
	client *s7.Client // nil until a successful Connect
	cache  *tagcache.Cache
	err    error
}

// App is the s7mon terminal application: one table row per configured
// tag, across every enabled PLC, refreshed on the global PollRate.
type App struct {
	cfg  *config.Config
	opts sinkOptions

	app   *tview.Application
	table *tview.Table

	// eventLog records connect/disconnect events for every monitored PLC.
	// Nil when no -log path was given; FileLogger's LogConnect and
	// LogDisconnect are nil-safe.
	eventLog *logging.FileLogger

	mu       sync.Mutex
	monitors []*plcMonitor
	stopCh   chan struct{}
}

// NewApp builds an App for cfg with the given sink options. eventLog may be
// nil to disable connect/disconnect event logging.
func NewApp(cfg *config.Config, opts sinkOptions, eventLog *logging.FileLogger) *App {
	a := &App{
		cfg:      cfg,
		opts:     opts,
		eventLog: eventLog,
		app:      tview.NewApplication(),
		table:    tview.NewTable().SetBorders(false).SetFixed(1, 0),
		stopCh:   make(chan struct{}),
	}
	a.setupUI()
	a.setupMonitors()
	return a
}

func (a *App) setupUI() {
	headers := []string{"PLC", "TAG", "ADDRESS", "VALUE", "TYPE", "UPDATED", "ERROR"}
	for col, h := range headers {
		a.table.SetCell(0, col, tview.NewTableCell(h).
			SetTextColor(tcell.ColorYellow).
			SetSelectable(false).
			SetExpansion(1))
	}
	a.table.SetSelectable(true, false)
	a.table.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape || event.Rune() == 'q' {
			a.app.Stop()
			return nil
		}
		return event
	})

	frame := tview.NewFrame(a.table).
		SetBorders(0, 0, 0, 0, 1, 1)
	frame.AddText("s7mon — press q or Esc to quit", true, tview.AlignCenter, tcell.ColorWhite)

	a.app.SetRoot(frame, true)
}

func (a *App) setupMonitors() {
	var opts []tagcache.Option
	if a.opts.redisAddr != "" {
		opts = append(opts, tagcache.WithRedis(a.opts.redisAddr, a.opts.redisPassword, a.opts.redisDB, 0))
	}
	if a.opts.kafkaTopic != "" && len(a.opts.kafkaBrokers) > 0 {
		opts = append(opts, tagcache.WithKafka(a.opts.kafkaBrokers, a.opts.kafkaTopic))
	}

	for _, plc := range a.cfg.PLCs {
		if !plc.Enabled {
			continue
		}
		ns := a.cfg.Namespace
		if ns == "" {
			ns = plc.Name
		}
		a.monitors = append(a.monitors, &plcMonitor{
			cfg:   plc,
			cache: tagcache.New(ns, opts...),
		})
	}
}

// Run connects every enabled PLC, starts the poll loop, and runs the TUI
// event loop until the user quits.
func (a *App) Run() error {
	for _, m := range a.monitors {
		go a.connectAndPoll(m)
	}

	go a.renderLoop()

	err := a.app.Run()
	close(a.stopCh)
	for _, m := range a.monitors {
		if m.client != nil {
			m.client.Close()
			a.eventLog.LogDisconnect(m.cfg.Name, nil)
		}
		m.cache.Close()
	}
	return err
}

func (a *App) connectAndPoll(m *plcMonitor) {
	pollRate := a.cfg.PollRate
	if pollRate <= 0 {
		pollRate = time.Second
	}
	for {
		select {
		case <-a.stopCh:
			return
		default:
		}

		if m.client == nil {
			client, err := connectPLC(m.cfg)
			a.mu.Lock()
			m.client = client
			m.err = err
			a.mu.Unlock()
			if err != nil {
				time.Sleep(pollRate)
				continue
			}
			a.eventLog.LogConnect(m.cfg.Name, m.cfg.Address)
		}

		a.pollOnce(m)

		select {
		case <-a.stopCh:
			return
		case <-time.After(pollRate):
		}
	}
}

func connectPLC(cfg config.PLCConfig) (*s7.Client, error) {
	var opts []s7.Option
	opts = append(opts, s7.WithRackSlot(cfg.Rack, cfg.Slot))
	if cfg.ConnectTimeoutMS > 0 {
		opts = append(opts, s7.WithTimeout(time.Duration(cfg.ConnectTimeoutMS)*time.Millisecond))
	}
	if cfg.PDURequest > 0 {
		opts = append(opts, s7.WithPDULength(cfg.PDURequest))
	}
	return s7.Connect(cfg.Address, opts...)
}

func (a *App) pollOnce(m *plcMonitor) {
	client := m.client
	if client == nil {
		return
	}

	for _, tag := range m.cfg.Tags {
		addr, err := s7addr.ParseAddress(tag.Address)
		if err != nil {
			m.cache.Update(tag.Name, tag.Alias, nil, "?", err)
			continue
		}

		wordLen := s7addr.WordLenForType(addr.DataType)
		start := addr.Offset
		if wordLen == s7addr.WordLenBit {
			// ReadArea takes a bit offset directly for BIT reads; addr.Offset
			// is just the byte part of a parsed DBX/IX/QX/MX address.
			bitNum := addr.BitNum
			if bitNum < 0 {
				bitNum = 0
			}
			start = addr.Offset*8 + bitNum
		}
		data, err := client.ReadArea(addr.Area, addr.DBNumber, start, wordLen, addr.Count)
		if err != nil {
			a.mu.Lock()
			m.err = err
			m.client = nil // force reconnect next cycle
			a.mu.Unlock()
			a.eventLog.LogDisconnect(m.cfg.Name, err)
			m.cache.Update(tag.Name, tag.Alias, nil, s7addr.TypeName(addr.DataType), err)
			continue
		}

		tv := &s7.TagValue{
			Name:     tag.Name,
			DataType: addr.DataType,
			Bytes:    data,
			BitNum:   addr.BitNum,
			Count:    addr.Count,
		}
		value := tv.GoValue()
		m.cache.Update(tag.Name, tag.Alias, value, tv.TypeName(), nil)
	}
}

func (a *App) renderLoop() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.app.QueueUpdateDraw(a.redraw)
		}
	}
}

func (a *App) redraw() {
	row := 1
	for _, m := range a.monitors {
		for _, tag := range m.cfg.Tags {
			key := tag.Alias
			if key == "" {
				key = tag.Name
			}
			snap, ok := m.cache.Get(key)

			valStr, typeStr, updatedStr, errStr := "-", "-", "-", ""
			if ok {
				valStr = fmt.Sprintf("%v", snap.Value)
				typeStr = snap.TypeName
				updatedStr = snap.Timestamp.Format("15:04:05")
				errStr = snap.Error
			}

			a.table.SetCell(row, 0, tview.NewTableCell(m.cfg.Name).SetExpansion(1))
			a.table.SetCell(row, 1, tview.NewTableCell(key).SetExpansion(1))
			a.table.SetCell(row, 2, tview.NewTableCell(tag.Address).SetExpansion(1))
			a.table.SetCell(row, 3, tview.NewTableCell(valStr).SetExpansion(1))
			a.table.SetCell(row, 4, tview.NewTableCell(typeStr).SetExpansion(1))
			a.table.SetCell(row, 5, tview.NewTableCell(updatedStr).SetExpansion(1))
			errCell := tview.NewTableCell(errStr).SetExpansion(2)
			if errStr != "" {
				errCell.SetTextColor(tcell.ColorRed)
			}
			a.table.SetCell(row, 6, errCell)
			row++
		}
	}
}
