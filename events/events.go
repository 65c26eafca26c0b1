/*
Package events holds the tick-indexed timeline that the unroller produces
and the MML emitter consumes. An Event is a discriminated union over
everything that can happen on a channel at a given tick: a note trigger,
a volume/pan/instrument change, a tempo or global-volume change, or a
structural marker (pattern break, loop point, inline MML injection).
*/
package events

import "sort"

// EffectKind discriminates the Event.Value field. Named after what each
// one does rather than the single IT effect letter it came from, since
// several IT effects collapse into the same emitted behavior.
type EffectKind int

const (
	KindNote            EffectKind = iota // Value = translated note (1-120, 253 fade, 254 cut, 255 off)
	KindInstrument                        // Value = instrument index (1-based)
	KindVolume                            // Value = IT volume-column-equivalent (0-64)
	KindMixVolume                         // Value = Mxx channel mix volume (0-64)
	KindInsVolume                         // Value = instrument global volume (0-128)
	KindSampleVolume                      // Value = sample global volume (0-64)
	KindPan                               // Value = 0-255 pan position (X)
	KindPanEnvelope                       // Value = pan envelope offset (EX, centered at 32)
	KindSurround                          // Value = 0 (off/S90) or 1 (on/S91)
	KindVibrato                           // Value = packed (speed<<8)|depth, 0 disables
	KindZ1Gain                            // Value = Z1 filter/gain macro argument
	KindEchoFlagsDelta                    // Value = new combined 8-bit echo-enable mask (bit c = channel c), global
	KindPmodFlagsDelta                    // Value = new combined 8-bit pitch-mod-enable mask (bit c = channel c), global
	KindTempo                             // Value = BPM, global
	KindGlobalVolume                      // Value = 0-128, global
	KindPatternBreak                      // structural: new pattern starting
	KindBarBreak                          // structural: new measure (pattern-highlight major row) starting
	KindLoopMark                          // structural: loop point for this channel
	KindInlineMML                         // Value unused, Text = raw MML to splice in verbatim
	KindEnd                               // structural: end of song for this channel
)

// Event is one timeline entry for a single channel (or, for Tempo/
// GlobalVolume/markers, a channel used only as a sequencing anchor).
type Event struct {
	Tick    int
	Kind    EffectKind
	Value   int
	Chan    int    // Table.Global entries only: the channel whose output stream carries this command
	Text    string // only meaningful for KindInlineMML
	Visible bool   // addmml snippets can be marked invisible-to-dedup
}

// InsSample identifies one (instrument, sample) pairing actually triggered
// during playback. Sample 0 marks a noise instrument, which has no real
// sample backing it.
type InsSample struct {
	Instrument int
	Sample     int
}

// Table is the complete output of the unroller: one event slice per
// channel, a separate tick-sorted list of global (tempo/gvol) events, and
// the instrument/sample usage discovered along the way.
type Table struct {
	Channels [8][]Event
	Global   []Event

	// UsedSamples is the set of (ins, sample) pairs that were actually
	// triggered by a note; closure over this set is a testable property.
	UsedSamples map[InsSample]bool

	// InsDict maps a triggered (ins, sample) pair to its position in
	// InsList, assigned in first-seen order — this becomes the AddmusicK
	// instrument index.
	InsDict map[InsSample]int
	InsList []InsSample

	// LoopTick is the tick position (post pattern-delay expansion) where
	// playback loops back to; 0 if the song does not loop or loops back to
	// its very start.
	LoopTick int
}

// NewTable returns an empty table ready for the unroller to populate.
func NewTable() *Table {
	return &Table{
		UsedSamples: map[InsSample]bool{},
		InsDict:     map[InsSample]int{},
	}
}

// Add appends an event to channel c's timeline.
func (t *Table) Add(c int, tick int, kind EffectKind, value int) {
	t.Channels[c] = append(t.Channels[c], Event{Tick: tick, Kind: kind, Value: value, Visible: true})
}

// AddText appends a text-carrying event (currently only KindInlineMML).
// Only valid while tick is still non-decreasing relative to the last
// event added to channel c; once the channel's timeline is finished
// (e.g. to splice -addmml requests in after unrolling), use InsertText.
func (t *Table) AddText(c int, tick int, kind EffectKind, text string) {
	t.Channels[c] = append(t.Channels[c], Event{Tick: tick, Kind: kind, Text: text, Visible: true})
}

// InsertText inserts a text-carrying event into channel c's timeline at
// the first position whose tick is >= tick, preserving tick order. Used
// to splice inline MML (-mm/--addmml) into an already-unrolled timeline.
func (t *Table) InsertText(c int, tick int, kind EffectKind, text string) {
	events := t.Channels[c]
	idx := sort.Search(len(events), func(i int) bool { return events[i].Tick >= tick })
	entry := Event{Tick: tick, Kind: kind, Text: text, Visible: true}
	events = append(events, Event{})
	copy(events[idx+1:], events[idx:])
	events[idx] = entry
	t.Channels[c] = events
}

// AddGlobal appends a cross-channel event (tempo, global volume, echo/
// pitch-mod mask change), attributed to chanIdx so the emitter knows
// which channel's output stream should carry the resulting command.
// SortGlobal must be called once unrolling finishes.
func (t *Table) AddGlobal(tick int, kind EffectKind, value int, chanIdx int) {
	t.Global = append(t.Global, Event{Tick: tick, Kind: kind, Value: value, Chan: chanIdx, Visible: true})
}

// SortGlobal stabilizes the global event list by tick, preserving
// emission order for same-tick events (last-scanned-row-wins is already
// resolved by the unroller before it calls AddGlobal).
func (t *Table) SortGlobal() {
	sort.SliceStable(t.Global, func(i, j int) bool { return t.Global[i].Tick < t.Global[j].Tick })
}

// RegisterTrigger records that instrument/sample pair key was triggered,
// assigning it the next AddmusicK instrument slot if new.
func (t *Table) RegisterTrigger(key InsSample) int {
	if idx, ok := t.InsDict[key]; ok {
		return idx
	}
	idx := len(t.InsList)
	t.InsDict[key] = idx
	t.InsList = append(t.InsList, key)
	t.UsedSamples[key] = true
	return idx
}

// UseMask renders the "0"/"1" use-mask string the external sample
// converter expects, one character per sample (1-based) in table order.
func (t *Table) UseMask(sampleCount int) string {
	used := make([]bool, sampleCount+1)
	for key := range t.UsedSamples {
		if key.Sample > 0 && key.Sample <= sampleCount {
			used[key.Sample] = true
		}
	}

	mask := make([]byte, sampleCount)
	for s := 1; s <= sampleCount; s++ {
		if used[s] {
			mask[s-1] = '1'
		} else {
			mask[s-1] = '0'
		}
	}
	return string(mask)
}

// InsertLoopMark inserts a KindLoopMark event into channel c's timeline
// at the first position whose tick is >= tick, preserving tick order.
// Used for the post-hoc loop-tick resimulation pass.
func (t *Table) InsertLoopMark(c int, tick int) {
	events := t.Channels[c]
	idx := sort.Search(len(events), func(i int) bool { return events[i].Tick >= tick })
	marker := Event{Tick: tick, Kind: KindLoopMark, Visible: true}
	events = append(events, Event{})
	copy(events[idx+1:], events[idx:])
	events[idx] = marker
	t.Channels[c] = events
}
