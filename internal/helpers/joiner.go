package helpers

import "strings"

// This provides an efficient way to join lots of big strings together. It
// measures exactly how big the buffer should be and then allocates once.
type Joiner struct {
	strings  []joinerString
	length   uint32
	lastByte byte
}

type joinerString struct {
	data   string
	offset uint32
}

func (j *Joiner) AddString(data string) {
	if len(data) == 0 {
		return
	}
	j.lastByte = data[len(data)-1]
	j.strings = append(j.strings, joinerString{data, j.length})
	j.length += uint32(len(data))
}

// AddLine appends the text and makes sure it ends with a newline
func (j *Joiner) AddLine(data string) {
	j.AddString(data)
	j.EnsureNewlineAtEnd()
}

func (j *Joiner) LastByte() byte {
	return j.lastByte
}

func (j *Joiner) Length() uint32 {
	return j.length
}

func (j *Joiner) EnsureNewlineAtEnd() {
	if j.length > 0 && j.lastByte != '\n' {
		j.AddString("\n")
	}
}

func (j *Joiner) Contains(s string) bool {
	for _, item := range j.strings {
		if strings.Contains(item.data, s) {
			return true
		}
	}
	return false
}

func (j *Joiner) Done() []byte {
	buffer := make([]byte, j.length)
	for _, item := range j.strings {
		copy(buffer[item.offset:], item.data)
	}
	return buffer
}
