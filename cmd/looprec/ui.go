package main

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"github.com/cbegin/looprec-go"
	"github.com/cbegin/looprec-go/internal/config"
	"github.com/cbegin/looprec-go/internal/sequencer"
	"github.com/cbegin/looprec-go/internal/store"
	"github.com/cbegin/looprec-go/internal/track"
)

const (
	windowW    = 1000
	windowH    = 640
	minWindowW = 900
	minWindowH = 600

	textScale = 2
	charW     = 7 * textScale
	lineH     = 14 * textScale

	drumOctave   = 4
	scopeRingLen = 8192
)

var (
	bgColor       = color.RGBA{192, 192, 192, 255}
	borderColor   = color.RGBA{128, 128, 128, 255}
	bevelLight    = color.RGBA{255, 255, 255, 255}
	bevelDarker   = color.RGBA{64, 64, 64, 255}
	sunkenBgColor = color.RGBA{24, 24, 32, 255}
	selectedColor = color.RGBA{0, 0, 128, 255}
	meterColor    = color.RGBA{200, 40, 40, 255}
	playColor     = color.RGBA{40, 160, 60, 255}
	scopeColor    = color.RGBA{120, 220, 255, 255}

	stateColors = map[looprec.State]color.RGBA{
		looprec.Empty:             {60, 60, 70, 255},
		looprec.ArmedForRecording: {160, 90, 20, 255},
		looprec.CountingIn:        {220, 160, 20, 255},
		looprec.Recording:         {200, 40, 40, 255},
		looprec.Recorded:          {80, 80, 140, 255},
		looprec.ArmedForPlayback:  {40, 110, 60, 255},
		looprec.Playing:           {40, 160, 60, 255},
	}
)

var (
	trackKeys = []ebiten.Key{
		ebiten.KeyDigit1, ebiten.KeyDigit2, ebiten.KeyDigit3, ebiten.KeyDigit4, ebiten.KeyDigit5,
		ebiten.KeyDigit6, ebiten.KeyDigit7, ebiten.KeyDigit8, ebiten.KeyDigit9,
	}
	padKeys = []ebiten.Key{
		ebiten.KeyQ, ebiten.KeyW, ebiten.KeyE, ebiten.KeyR,
		ebiten.KeyT, ebiten.KeyY, ebiten.KeyU, ebiten.KeyI,
	}
	// Two rows laid out like a piano: the home row holds the black keys.
	pianoKeys = []ebiten.Key{
		ebiten.KeyZ, ebiten.KeyS, ebiten.KeyX, ebiten.KeyD, ebiten.KeyC, ebiten.KeyV,
		ebiten.KeyG, ebiten.KeyB, ebiten.KeyH, ebiten.KeyN, ebiten.KeyJ, ebiten.KeyM,
	}
	effects = []looprec.Effect{looprec.EffectNone, looprec.EffectReverb, looprec.EffectDelay}
)

// scope keeps the most recent mono output for the waveform view. Tap runs
// on the audio goroutine.
type scope struct {
	mu       sync.Mutex
	ring     []float32
	writePos int
}

func newScope() *scope {
	return &scope{ring: make([]float32, scopeRingLen)}
}

func (s *scope) Tap(samples []float32) {
	s.mu.Lock()
	for i := 0; i+1 < len(samples); i += 2 {
		s.ring[s.writePos] = (samples[i] + samples[i+1]) * 0.5
		s.writePos = (s.writePos + 1) % len(s.ring)
	}
	s.mu.Unlock()
}

// Snapshot copies the newest n samples, oldest first.
func (s *scope) Snapshot(n int) []float32 {
	if n > len(s.ring) {
		n = len(s.ring)
	}
	out := make([]float32, n)
	s.mu.Lock()
	start := (s.writePos - n + len(s.ring)) % len(s.ring)
	for i := range out {
		out[i] = s.ring[(start+i)%len(s.ring)]
	}
	s.mu.Unlock()
	return out
}

type game struct {
	session *looprec.Session
	logger  *log.Logger
	scope   *scope

	pads     []int
	keys     []int
	trackIDs []string
	focus    string

	octave int
	effect int
	beat   int

	status    string
	statusErr bool

	textCache map[string]*ebiten.Image
	viewW     int
	viewH     int
}

func newGame(cfg config.Config, snapshot *store.File, logger *log.Logger) (*game, error) {
	g := &game{
		logger:    logger,
		scope:     newScope(),
		octave:    4,
		beat:      -1,
		status:    "Ready",
		textCache: make(map[string]*ebiten.Image, 256),
		viewW:     windowW,
		viewH:     windowH,
	}
	s, err := looprec.NewSession(cfg,
		looprec.WithStore(snapshot),
		looprec.WithLogger(logger),
		looprec.WithListener(looprec.Listener{
			OnCountInBeat: func(step int) { g.beat = step },
			OnStateChanged: func(id string, st looprec.State) {
				if st == looprec.Recording {
					g.beat = -1
					g.setStatus(id + " recording")
				}
			},
			OnTrackLengthChanged: func(_ float64, formatted string) {
				g.setStatus("Loop length " + formatted)
			},
		}),
	)
	if err != nil {
		return nil, err
	}
	g.session = s
	for _, err := range s.SkippedRacks() {
		g.setError(err.Error())
	}
	for _, r := range s.Racks() {
		switch sequencer.Kind(r.Kind) {
		case sequencer.KindDrum:
			if g.pads == nil {
				g.pads = r.Surfaces
			}
		case sequencer.KindInstrument:
			if g.keys == nil {
				g.keys = r.Surfaces
			}
		}
		g.trackIDs = append(g.trackIDs, r.TrackIDs...)
	}
	return g, nil
}

func (g *game) Update() error {
	g.session.TickWith(1/float64(ebiten.TPS()), g.handleInput)
	return nil
}

func (g *game) handleInput() {
	g.handleTransport()
	g.handleSurfaces()
}

func (g *game) handleTransport() {
	s := g.session
	for i, k := range trackKeys {
		if i < len(g.trackIDs) && inpututil.IsKeyJustPressed(k) {
			g.focus = g.trackIDs[i]
			g.report(s.ArmTrack(g.focus), g.focus+" selected")
		}
	}
	if inpututil.IsKeyJustPressed(ebiten.KeySpace) {
		g.setStatus("Trigger: " + s.MasterTrigger().String())
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		s.StopAll()
		g.setStatus("Stopped")
	}
	step := 1.0
	if ebiten.IsKeyPressed(ebiten.KeyShift) {
		step = 10
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyArrowUp) {
		g.report(s.SetBPM(s.BPM()+step), "")
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyArrowDown) {
		g.report(s.SetBPM(s.BPM()-step), "")
	}
	ph := s.Playhead()
	if inpututil.IsKeyJustPressed(ebiten.KeyP) {
		switch {
		case ph.Playing():
			s.TogglePause()
		default:
			s.Play(false)
		}
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyO) {
		s.Play(true)
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyA) {
		s.StopPlayhead()
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyDelete) || inpututil.IsKeyJustPressed(ebiten.KeyBackspace) {
		if g.focus != "" {
			g.report(s.DeleteRecording(g.focus), g.focus+" deleted")
		}
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyTab) {
		g.effect = (g.effect + 1) % len(effects)
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyComma) && g.octave > 0 {
		g.octave--
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyPeriod) && g.octave < 8 {
		g.octave++
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF1) {
		s.SetMonitor(!s.Monitor())
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF2) {
		s.SetSyncPlayback(!s.SyncPlayback())
	}
}

func (g *game) handleSurfaces() {
	fx := effects[g.effect]
	press := func(keys []ebiten.Key, surfaces []int, octave int) {
		for i, k := range keys {
			if i >= len(surfaces) {
				return
			}
			if inpututil.IsKeyJustPressed(k) {
				g.session.NotifySurfaceTriggered(surfaces[i], true, octave, fx)
			}
			if inpututil.IsKeyJustReleased(k) {
				g.session.NotifySurfaceTriggered(surfaces[i], false, octave, fx)
			}
		}
	}
	press(padKeys, g.pads, drumOctave)
	press(pianoKeys, g.keys, g.octave)
}

func (g *game) report(err error, ok string) {
	if err != nil {
		g.setError(err.Error())
		return
	}
	if ok != "" {
		g.setStatus(ok)
	}
}

func (g *game) setError(msg string) {
	g.logger.Warn(msg)
	g.status = msg
	g.statusErr = true
}

func (g *game) setStatus(msg string) {
	g.status = msg
	g.statusErr = false
}

func (g *game) Draw(screen *ebiten.Image) {
	screen.Fill(bgColor)
	w := g.viewW - 16
	header := image.Rect(8, 8, 8+w, 8+lineH+12)
	tracks := image.Rect(8, header.Max.Y+8, 8+w, header.Max.Y+8+len(g.trackIDs)*(lineH+6)+12)
	bars := image.Rect(8, tracks.Max.Y+8, 8+w, tracks.Max.Y+8+2*(lineH+6)+12)
	surfaces := image.Rect(8, bars.Max.Y+8, 8+w, bars.Max.Y+8+2*lineH+16)
	status := image.Rect(8, g.viewH-8-lineH-12, 8+w, g.viewH-8)
	scopeRect := image.Rect(8, surfaces.Max.Y+8, 8+w, status.Min.Y-8)

	g.drawPanel(screen, header)
	g.drawHeader(screen, header)
	g.drawSunkenPanel(screen, tracks)
	g.drawTracks(screen, tracks)
	g.drawSunkenPanel(screen, bars)
	g.drawBars(screen, bars)
	g.drawPanel(screen, surfaces)
	g.drawSurfaces(screen, surfaces)
	if scopeRect.Dy() > 20 {
		g.drawSunkenPanel(screen, scopeRect)
		g.drawScope(screen, scopeRect)
	}
	g.drawSunkenPanel(screen, status)
	msg := g.status
	if g.statusErr {
		msg = "! " + msg
	}
	g.drawText(screen, shortenEnd(msg, (status.Dx()-16)/charW), status.Min.X+8, status.Min.Y+6)
}

func (g *game) drawHeader(screen *ebiten.Image, rect image.Rectangle) {
	s := g.session
	onOff := map[bool]string{true: "on", false: "off"}
	line := fmt.Sprintf("%.0f BPM  %s  %s  FX %s  OCT %d  MON %s  SYNC %s",
		s.BPM(), s.FormattedLength(), s.Phase(), effects[g.effect], g.octave,
		onOff[s.Monitor()], onOff[s.SyncPlayback()])
	g.drawText(screen, shortenEnd(line, (rect.Dx()-16)/charW), rect.Min.X+8, rect.Min.Y+6)
}

func (g *game) drawTracks(screen *ebiten.Image, rect image.Rectangle) {
	y := rect.Min.Y + 6
	for i, id := range g.trackIDs {
		info, ok := g.session.TrackInfo(id)
		if !ok {
			continue
		}
		row := image.Rect(rect.Min.X+4, y, rect.Max.X-4, y+lineH+2)
		if info.Selected {
			fillRect(screen, row, selectedColor)
		}
		swatch := image.Rect(row.Min.X+4, row.Min.Y+4, row.Min.X+4+lineH-6, row.Max.Y-4)
		fillRect(screen, swatch, stateColors[info.State])
		label := fmt.Sprintf("%d %-10s %-20s %3d ev", i+1, id, info.State, info.Events)
		g.drawText(screen, label, swatch.Max.X+8, row.Min.Y)
		if info.LoopDuration > 0 && (info.State == track.Playing || info.State == track.Recording) {
			progress := info.LoopTime / info.LoopDuration
			bar := image.Rect(row.Max.X-204, row.Min.Y+8, row.Max.X-4, row.Max.Y-8)
			drawSunkenBorder(screen, bar)
			fillRect(screen, image.Rect(bar.Min.X+1, bar.Min.Y+1, bar.Min.X+1+int(progress*float64(bar.Dx()-2)), bar.Max.Y-1), stateColors[info.State])
		}
		y += lineH + 6
	}
}

func (g *game) drawBars(screen *ebiten.Image, rect image.Rectangle) {
	s := g.session
	meter := fmt.Sprintf("REC %3.0f%%", s.MeterProgress()*100)
	if s.Phase() == sequencer.PhaseCountingIn {
		meter = fmt.Sprintf("COUNT %d  %.1fs", g.beat+1, s.CountInRemaining())
	}
	ph := s.Playhead()
	head := fmt.Sprintf("COL %d", ph.Column())
	rows := []struct {
		label    string
		progress float64
		fill     color.RGBA
	}{
		{meter, s.MeterProgress(), meterColor},
		{head, ph.Progress(), playColor},
	}
	y := rect.Min.Y + 6
	for _, r := range rows {
		g.drawText(screen, r.label, rect.Min.X+8, y)
		bar := image.Rect(rect.Min.X+8+18*charW, y+6, rect.Max.X-8, y+lineH-2)
		drawSunkenBorder(screen, bar)
		fillRect(screen, image.Rect(bar.Min.X+1, bar.Min.Y+1, bar.Min.X+1+int(clamp(r.progress, 0, 1)*float64(bar.Dx()-2)), bar.Max.Y-1), r.fill)
		y += lineH + 6
	}
}

func (g *game) drawSurfaces(screen *ebiten.Image, rect image.Rectangle) {
	line := func(keys []ebiten.Key, surfaces []int) string {
		out := ""
		for i, sf := range surfaces {
			if i >= len(keys) {
				break
			}
			out += fmt.Sprintf("%s:%s ", keys[i].String(), g.session.Label(sf))
		}
		return out
	}
	maxChars := (rect.Dx() - 16) / charW
	g.drawText(screen, shortenEnd(line(padKeys, g.pads), maxChars), rect.Min.X+8, rect.Min.Y+6)
	g.drawText(screen, shortenEnd(line(pianoKeys, g.keys), maxChars), rect.Min.X+8, rect.Min.Y+6+lineH)
}

func (g *game) drawScope(screen *ebiten.Image, rect image.Rectangle) {
	width := rect.Dx() - 4
	samples := g.scope.Snapshot(width * 4)
	per := len(samples) / width
	if per == 0 {
		return
	}
	mid := float64(rect.Min.Y+rect.Max.Y) / 2
	half := float64(rect.Dy()-4) / 2
	for x := 0; x < width; x++ {
		lo, hi := float32(0), float32(0)
		for _, v := range samples[x*per : (x+1)*per] {
			lo = min(lo, v)
			hi = max(hi, v)
		}
		top := mid - float64(hi)*half
		h := max(1, float64(hi-lo)*half)
		ebitenutil.DrawRect(screen, float64(rect.Min.X+2+x), top, 1, h, scopeColor)
	}
}

func (g *game) Layout(outsideW, outsideH int) (int, int) {
	g.viewW = max(outsideW, minWindowW)
	g.viewH = max(outsideH, minWindowH)
	return g.viewW, g.viewH
}

// Close stops the engine and writes the snapshot.
func (g *game) Close() {
	if err := g.session.Close(); err != nil {
		g.logger.Error("close session", "err", err)
	}
}

func (g *game) drawPanel(screen *ebiten.Image, rect image.Rectangle) {
	fillRect(screen, rect, bgColor)
	drawBorder(screen, rect)
}

func (g *game) drawSunkenPanel(screen *ebiten.Image, rect image.Rectangle) {
	fillRect(screen, rect, sunkenBgColor)
	drawSunkenBorder(screen, rect)
}

func fillRect(screen *ebiten.Image, rect image.Rectangle, c color.Color) {
	if rect.Dx() <= 0 || rect.Dy() <= 0 {
		return
	}
	ebitenutil.DrawRect(screen, float64(rect.Min.X), float64(rect.Min.Y), float64(rect.Dx()), float64(rect.Dy()), c)
}

// drawBorder draws a raised bevel.
func drawBorder(screen *ebiten.Image, rect image.Rectangle) {
	x, y := float64(rect.Min.X), float64(rect.Min.Y)
	w, h := float64(rect.Dx()), float64(rect.Dy())
	ebitenutil.DrawRect(screen, x, y, w-1, 1, bevelLight)
	ebitenutil.DrawRect(screen, x, y+1, 1, h-2, bevelLight)
	ebitenutil.DrawRect(screen, x, y+h-1, w, 1, bevelDarker)
	ebitenutil.DrawRect(screen, x+w-1, y, 1, h, bevelDarker)
}

// drawSunkenBorder draws a sunken bevel.
func drawSunkenBorder(screen *ebiten.Image, rect image.Rectangle) {
	x, y := float64(rect.Min.X), float64(rect.Min.Y)
	w, h := float64(rect.Dx()), float64(rect.Dy())
	ebitenutil.DrawRect(screen, x, y, w-1, 1, borderColor)
	ebitenutil.DrawRect(screen, x, y+1, 1, h-2, borderColor)
	ebitenutil.DrawRect(screen, x, y+h-1, w, 1, bevelLight)
	ebitenutil.DrawRect(screen, x+w-1, y, 1, h, bevelLight)
}

func (g *game) drawText(screen *ebiten.Image, msg string, x int, y int) {
	if msg == "" {
		return
	}
	img := g.textCache[msg]
	if img == nil {
		img = ebiten.NewImage(max(1, len([]rune(msg))*7), 14)
		ebitenutil.DebugPrintAt(img, msg, 0, 0)
		if len(g.textCache) > 2000 {
			g.textCache = make(map[string]*ebiten.Image, 256)
		}
		g.textCache[msg] = img
	}
	op := &ebiten.DrawImageOptions{}
	op.GeoM.Scale(textScale, textScale)
	op.GeoM.Translate(float64(x), float64(y))
	screen.DrawImage(img, op)
}

func shortenEnd(s string, maxChars int) string {
	r := []rune(s)
	if len(r) <= maxChars {
		return s
	}
	if maxChars <= 3 {
		return string(r[:max(0, maxChars)])
	}
	return string(r[:maxChars-3]) + "..."
}

func clamp(v, minV, maxV float64) float64 {
	if v < minV {
		return minV
	}
	if v > maxV {
		return maxV
	}
	return v
}
