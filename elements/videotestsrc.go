package elements

import (
	"fmt"
	"math"
	"sync"

	"github.com/thesyncim/gst"
	"github.com/thesyncim/gst/base"
)

var catVideoTestSrc = gst.NewDebugCategory("videotestsrc", "video test source")

// Patterns understood by the videotestsrc "pattern" property.
const (
	PatternSMPTE    = "smpte"
	PatternSnow     = "snow"
	PatternBlack    = "black"
	PatternWhite    = "white"
	PatternRed      = "red"
	PatternGreen    = "green"
	PatternBlue     = "blue"
	PatternCheckers = "checkers"
	PatternBall     = "ball"
	PatternGradient = "gradient"
	PatternBars     = "bars"
)

// Raw video formats videotestsrc produces.
const (
	FormatI420 = "I420"
	FormatNV12 = "NV12"
	FormatRGBA = "RGBA"
)

var videoTestSrcCaps = gst.MustCapsFromString("video/x-raw, format=(string){ I420, NV12, RGBA }, " +
	"width=(int)[ 1, 2147483647 ], height=(int)[ 1, 2147483647 ], " +
	"framerate=(fraction)[ 0/1, 2147483647/1 ]")

var videoTestSrcClass = base.NewSrcClass("GstVideoTestSrc",
	gst.ElementMetadata{
		LongName:       "Video test source",
		Classification: "Source/Video",
		Description:    "Creates a test video stream",
		Author:         "gst-go",
	},
	videoTestSrcCaps,
	gst.NewParamString("pattern", "Pattern", "Type of test pattern to generate", PatternSMPTE, gst.ParamReadWrite),
	gst.NewParamBool("is-live", "Is Live", "Whether to act as a live source", false, gst.ParamReadWrite),
	gst.NewParamInt64("timestamp-offset", "Timestamp offset", "An offset added to timestamps set on buffers (in ns)",
		0, math.MaxInt64, 0, gst.ParamReadWrite),
)

func init() {
	videoTestSrcClass.New = func() gst.ElementImpl { return &VideoTestSrc{} }
}

// VideoTestSrc paints test patterns into raw video frames.
type VideoTestSrc struct {
	base.Src

	mu        sync.Mutex
	pattern   string
	info      frameInfo
	frame     uint64
	tsOffset  gst.ClockTime
	liveStart gst.ClockTime
	rngState  uint64
}

type frameInfo struct {
	format    string
	width     int
	height    int
	framerate gst.Fraction
}

// size returns the number of bytes of one frame.
func (fi frameInfo) size() int {
	switch fi.format {
	case FormatRGBA:
		return fi.width * fi.height * 4
	default:
		cw, ch := (fi.width+1)/2, (fi.height+1)/2
		return fi.width*fi.height + 2*cw*ch
	}
}

// frameTime returns the stream time of frame n.
func (fi frameInfo) frameTime(n uint64) gst.ClockTime {
	if fi.framerate.Num == 0 {
		return 0
	}
	return gst.ClockTime(n * uint64(gst.Second) * uint64(fi.framerate.Den) / uint64(fi.framerate.Num))
}

func (v *VideoTestSrc) Start(s *base.Src) error {
	e := s.Element()
	pattern, _ := gst.PropertyAs[string](e, "pattern")
	if _, ok := patternPainters[pattern]; !ok {
		return fmt.Errorf("videotestsrc: unknown pattern %q", pattern)
	}
	live, _ := gst.PropertyAs[bool](e, "is-live")
	offset, _ := gst.PropertyAs[int64](e, "timestamp-offset")

	v.mu.Lock()
	v.pattern = pattern
	v.frame = 0
	v.tsOffset = gst.ClockTime(offset)
	v.liveStart = gst.ClockTimeNone
	v.rngState = 0x2545F4914F6CDD1D
	v.mu.Unlock()

	s.SetLive(live)
	s.SetFormat(gst.FormatTime)
	return nil
}

// Fixate prefers 320x240 I420 at 30 fps.
func (v *VideoTestSrc) Fixate(_ *base.Src, caps *gst.Caps) *gst.Caps {
	mut := caps.MakeWritable()
	mut.Truncate()
	st := mut.StructureMut(0)
	st.FixateFieldString("format", FormatI420)
	st.FixateFieldNearestInt("width", 320)
	st.FixateFieldNearestInt("height", 240)
	if st.Has("framerate") {
		st.FixateFieldNearestFraction("framerate", gst.NewFraction(30, 1))
	} else {
		st.Set("framerate", gst.NewFraction(30, 1))
	}
	fixed := mut.Fixated()
	mut.Unref()
	return fixed
}

func (v *VideoTestSrc) SetCaps(s *base.Src, caps *gst.Caps) error {
	st := caps.Structure(0)
	format, err := st.GetString("format")
	if err != nil {
		return err
	}
	width, err := st.GetInt("width")
	if err != nil {
		return err
	}
	height, err := st.GetInt("height")
	if err != nil {
		return err
	}
	rate, err := st.GetFraction("framerate")
	if err != nil {
		return err
	}
	switch format {
	case FormatI420, FormatNV12, FormatRGBA:
	default:
		return fmt.Errorf("videotestsrc: unsupported format %s", format)
	}
	info := frameInfo{format: format, width: width, height: height, framerate: rate}

	v.mu.Lock()
	v.info = info
	v.mu.Unlock()

	s.SetBlocksize(uint(info.size()))
	if rate.Num > 0 {
		d := info.frameTime(1)
		s.SetLatency(d, d)
	}
	catVideoTestSrc.Debug(s.Element(), "negotiated %s %dx%d @ %s", format, width, height, rate)
	return nil
}

func (v *VideoTestSrc) IsSeekable(s *base.Src) bool { return !s.IsLive() }

func (v *VideoTestSrc) DoSeek(_ *base.Src, seg *gst.Segment) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	fr := v.info.framerate
	if fr.Num == 0 {
		v.frame = 0
		return true
	}
	v.frame = seg.Start * uint64(fr.Num) / (uint64(gst.Second) * uint64(fr.Den))
	seg.Position = uint64(v.info.frameTime(v.frame))
	return true
}

func (v *VideoTestSrc) Fill(s *base.Src, _ uint64, _ uint, buf *gst.BufferMut) gst.FlowReturn {
	v.mu.Lock()
	defer v.mu.Unlock()
	info := v.info
	if info.width == 0 {
		return gst.FlowNotNegotiated
	}
	if info.framerate.Num == 0 && v.frame > 0 {
		// a still image is a single frame
		return gst.FlowEOS
	}

	m, err := buf.MapWritable()
	if err != nil {
		return gst.FlowError
	}
	if len(m.Data) < info.size() {
		m.Unmap()
		catVideoTestSrc.Error(s.Element(), "buffer of %d bytes too small for %d byte frame", len(m.Data), info.size())
		return gst.FlowError
	}
	p := &painter{info: info, data: m.Data}
	patternPainters[v.pattern](v, p)
	m.Unmap()

	pts := info.frameTime(v.frame)
	if s.IsLive() {
		if !v.liveStart.IsValid() {
			v.liveStart = s.Element().CurrentRunningTime()
			if !v.liveStart.IsValid() {
				v.liveStart = 0
			}
		}
		pts += v.liveStart
	}
	buf.SetPTS(pts + v.tsOffset)
	buf.SetDTS(gst.ClockTimeNone)
	if info.framerate.Num > 0 {
		buf.SetDuration(info.frameTime(v.frame+1) - info.frameTime(v.frame))
	}
	buf.SetOffset(v.frame)
	buf.SetOffsetEnd(v.frame + 1)
	v.frame++
	return gst.FlowOK
}

// painter writes RGB colours into a frame of the negotiated format. Chroma of
// the subsampled formats comes from the top-left pixel of each 2x2 block.
type painter struct {
	info frameInfo
	data []byte
}

func (p *painter) set(x, y int, r, g, b uint8) {
	w, h := p.info.width, p.info.height
	switch p.info.format {
	case FormatRGBA:
		i := (y*w + x) * 4
		p.data[i], p.data[i+1], p.data[i+2], p.data[i+3] = r, g, b, 255
		return
	}
	yv, u, v := rgbToYUV(r, g, b)
	p.data[y*w+x] = yv
	if x%2 != 0 || y%2 != 0 {
		return
	}
	cw, ch := (w+1)/2, (h+1)/2
	ci := (y/2)*cw + x/2
	switch p.info.format {
	case FormatI420:
		p.data[w*h+ci] = u
		p.data[w*h+cw*ch+ci] = v
	case FormatNV12:
		p.data[w*h+2*ci] = u
		p.data[w*h+2*ci+1] = v
	}
}

func (p *painter) fill(r, g, b uint8) {
	for y := 0; y < p.info.height; y++ {
		for x := 0; x < p.info.width; x++ {
			p.set(x, y, r, g, b)
		}
	}
}

// SMPTE colour bars at 75% intensity
var colorBarsRGB = [][3]uint8{
	{192, 192, 192}, // white
	{192, 192, 0},   // yellow
	{0, 192, 192},   // cyan
	{0, 192, 0},     // green
	{192, 0, 192},   // magenta
	{192, 0, 0},     // red
	{0, 0, 192},     // blue
	{16, 16, 16},    // black
}

// full intensity bars
var fullBarsRGB = [][3]uint8{
	{255, 255, 255},
	{255, 255, 0},
	{0, 255, 255},
	{0, 255, 0},
	{255, 0, 255},
	{255, 0, 0},
	{0, 0, 255},
	{0, 0, 0},
}

var patternPainters = map[string]func(v *VideoTestSrc, p *painter){
	PatternSMPTE:    func(_ *VideoTestSrc, p *painter) { paintBars(p, colorBarsRGB) },
	PatternBars:     func(_ *VideoTestSrc, p *painter) { paintBars(p, fullBarsRGB) },
	PatternBlack:    func(_ *VideoTestSrc, p *painter) { p.fill(0, 0, 0) },
	PatternWhite:    func(_ *VideoTestSrc, p *painter) { p.fill(255, 255, 255) },
	PatternRed:      func(_ *VideoTestSrc, p *painter) { p.fill(255, 0, 0) },
	PatternGreen:    func(_ *VideoTestSrc, p *painter) { p.fill(0, 255, 0) },
	PatternBlue:     func(_ *VideoTestSrc, p *painter) { p.fill(0, 0, 255) },
	PatternGradient: func(_ *VideoTestSrc, p *painter) { paintGradient(p) },
	PatternCheckers: func(_ *VideoTestSrc, p *painter) { paintCheckers(p, 8) },
	PatternSnow:     paintSnow,
	PatternBall:     func(v *VideoTestSrc, p *painter) { paintBall(p, v.frame) },
}

func paintBars(p *painter, bars [][3]uint8) {
	w := p.info.width
	barWidth := max(w/len(bars), 1)
	for y := 0; y < p.info.height; y++ {
		for x := 0; x < w; x++ {
			c := bars[min(x/barWidth, len(bars)-1)]
			p.set(x, y, c[0], c[1], c[2])
		}
	}
}

func paintGradient(p *painter) {
	w := p.info.width
	for y := 0; y < p.info.height; y++ {
		for x := 0; x < w; x++ {
			l := uint8(x * 255 / w)
			p.set(x, y, l, l, l)
		}
	}
}

func paintCheckers(p *painter, size int) {
	for y := 0; y < p.info.height; y++ {
		for x := 0; x < p.info.width; x++ {
			if (x/size+y/size)%2 == 0 {
				p.set(x, y, 255, 255, 255)
			} else {
				p.set(x, y, 0, 0, 0)
			}
		}
	}
}

// paintSnow draws grey noise from a xorshift64 generator.
func paintSnow(v *VideoTestSrc, p *painter) {
	for y := 0; y < p.info.height; y++ {
		for x := 0; x < p.info.width; x++ {
			v.rngState ^= v.rngState << 13
			v.rngState ^= v.rngState >> 7
			v.rngState ^= v.rngState << 17
			l := uint8(v.rngState)
			p.set(x, y, l, l, l)
		}
	}
}

// paintBall draws a white ball circling the frame centre on black.
func paintBall(p *painter, frame uint64) {
	w, h := p.info.width, p.info.height
	p.fill(0, 0, 0)

	radius := max(min(w, h)/10, 1)
	orbit := float64(min(w, h)) / 4
	angle := float64(frame) * 0.05
	cx := w/2 + int(orbit*math.Cos(angle))
	cy := h/2 + int(orbit*math.Sin(angle))

	for y := max(cy-radius, 0); y < min(cy+radius, h); y++ {
		for x := max(cx-radius, 0); x < min(cx+radius, w); x++ {
			dx, dy := x-cx, y-cy
			if dx*dx+dy*dy <= radius*radius {
				p.set(x, y, 255, 255, 255)
			}
		}
	}
}

// rgbToYUV converts to limited range BT.601.
func rgbToYUV(r, g, b uint8) (y, u, v uint8) {
	yf := 16.0 + 65.481*float64(r)/255.0 + 128.553*float64(g)/255.0 + 24.966*float64(b)/255.0
	uf := 128.0 - 37.797*float64(r)/255.0 - 74.203*float64(g)/255.0 + 112.0*float64(b)/255.0
	vf := 128.0 + 112.0*float64(r)/255.0 - 93.786*float64(g)/255.0 - 18.214*float64(b)/255.0

	y = uint8(clamp(yf, 16, 235))
	u = uint8(clamp(uf, 16, 240))
	v = uint8(clamp(vf, 16, 240))
	return
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
