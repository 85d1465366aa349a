package codec

import "strings"

// PriorityList is an ordered list of video formats, most preferred first.
// Filtering operations never reorder entries they leave in place. The list
// does not refill itself when emptied; callers use EnsureFallback.
type PriorityList struct {
	formats []Format
}

// NewPriorityList creates a list holding formats in the given order.
func NewPriorityList(formats ...Format) *PriorityList {
	return &PriorityList{formats: append([]Format(nil), formats...)}
}

// DefaultPriorityList returns the full client format list in its initial
// preference order: 10-bit before 8-bit, AV1 before HEVC within a depth,
// H.264 last.
func DefaultPriorityList() *PriorityList {
	return NewPriorityList(
		FormatAV1High10444,
		FormatAV1Main10,
		FormatH265RExt10444,
		FormatH265Main10,
		FormatAV1High8444,
		FormatAV1Main8,
		FormatH265RExt8444,
		FormatH265,
		FormatH264High8444,
		FormatH264,
	)
}

// RemoveByMask removes every entry sharing a bit with mask. Survivors keep
// their relative order.
func (l *PriorityList) RemoveByMask(mask Format) {
	kept := l.formats[:0]
	for _, f := range l.formats {
		if f&mask == 0 {
			kept = append(kept, f)
		}
	}
	l.formats = kept
}

// DeprioritizeByMask moves every entry sharing a bit with mask to the back.
// Both partitions keep their internal order.
func (l *PriorityList) DeprioritizeByMask(mask Format) {
	front := make([]Format, 0, len(l.formats))
	var back []Format
	for _, f := range l.formats {
		if f&mask != 0 {
			back = append(back, f)
		} else {
			front = append(front, f)
		}
	}
	l.formats = append(front, back...)
}

// MaskByServerCodecModes returns the subset of present entries the host can
// encode. It never sets bits for formats absent from the list.
func (l *PriorityList) MaskByServerCodecModes(modes ServerCodecMode) Format {
	return l.Mask() & modes.Formats()
}

// Mask returns the aggregate OR of all entries.
func (l *PriorityList) Mask() Format {
	var mask Format
	for _, f := range l.formats {
		mask |= f
	}
	return mask
}

// Front returns the most preferred entry.
func (l *PriorityList) Front() (Format, bool) {
	if len(l.formats) == 0 {
		return 0, false
	}
	return l.formats[0], true
}

// RemoveFirst drops the most preferred entry.
func (l *PriorityList) RemoveFirst() {
	if len(l.formats) > 0 {
		l.formats = l.formats[1:]
	}
}

// Append adds f at the lowest priority.
func (l *PriorityList) Append(f Format) {
	l.formats = append(l.formats, f)
}

// EnsureFallback appends H.264 when the list has been emptied. It reports
// whether the fallback was added.
func (l *PriorityList) EnsureFallback() bool {
	if len(l.formats) > 0 {
		return false
	}
	l.formats = append(l.formats, FormatH264)
	return true
}

// Len returns the number of entries.
func (l *PriorityList) Len() int { return len(l.formats) }

// Empty reports whether the list has no entries.
func (l *PriorityList) Empty() bool { return len(l.formats) == 0 }

// Formats returns a copy of the entries in priority order.
func (l *PriorityList) Formats() []Format {
	out := make([]Format, len(l.formats))
	copy(out, l.formats)
	return out
}

// Clone returns an independent copy.
func (l *PriorityList) Clone() *PriorityList {
	return NewPriorityList(l.formats...)
}

func (l *PriorityList) String() string {
	names := make([]string, len(l.formats))
	for i, f := range l.formats {
		names[i] = f.String()
	}
	return "[" + strings.Join(names, ", ") + "]"
}
