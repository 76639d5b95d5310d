package logger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/farm-fe/farm-sub000/internal/logger"
)

func TestMsgIDs(t *testing.T) {
	for id := logger.MsgID_None + 1; id < logger.MsgID_END; id++ {
		str := logger.MsgIDToString(id)
		require.NotEmpty(t, str, "message id %d has no name", id)

		back, ok := logger.StringToMsgID(str)
		require.True(t, ok)
		assert.Equal(t, id, back)
	}
}

func TestDeferLogSortsMessages(t *testing.T) {
	log := logger.NewDeferLog()
	log.AddMsg(logger.Msg{Kind: logger.Warning, Text: "b", Location: &logger.MsgLocation{File: "b.js", Line: 1}})
	log.AddMsg(logger.Msg{Kind: logger.Warning, Text: "a", Location: &logger.MsgLocation{File: "a.js", Line: 3}})
	log.AddMsg(logger.Msg{Kind: logger.Warning, Text: "no location"})
	assert.False(t, log.HasErrors())

	log.AddError(nil, "boom")
	assert.True(t, log.HasErrors())

	errors, warnings := log.Counts()
	assert.Equal(t, 1, errors)
	assert.Equal(t, 3, warnings)

	msgs := log.Done()
	require.Len(t, msgs, 4)
	assert.Equal(t, "boom", msgs[0].Text)
	assert.Equal(t, "no location", msgs[1].Text)
	assert.Equal(t, "a", msgs[2].Text)
	assert.Equal(t, "b", msgs[3].Text)
}

func TestLocationForOffset(t *testing.T) {
	contents := "first line\nsecond line\nthird"
	loc := logger.LocationForOffset("x.js", contents, 18, 4)
	assert.Equal(t, "x.js", loc.File)
	assert.Equal(t, 2, loc.Line)
	assert.Equal(t, 7, loc.Column)
	assert.Equal(t, "second line", loc.LineText)

	loc = logger.LocationForOffset("x.js", contents, 1000, 0)
	assert.Equal(t, 3, loc.Line)
	assert.Equal(t, "third", loc.LineText)
}

func TestMsgStringWithoutColor(t *testing.T) {
	msg := logger.Msg{
		Kind:     logger.Error,
		Text:     "Could not resolve \"./missing\"",
		Location: logger.LocationForOffset("entry.js", "import './missing'", 7, 11),
	}
	text := msg.String(logger.StderrOptions{IncludeSource: true}, logger.TerminalInfo{})
	assert.Contains(t, text, "entry.js:1:7: error: Could not resolve \"./missing\"")
	assert.Contains(t, text, "import './missing'")
	assert.Contains(t, text, "~~~~~~~~~~~")
}

func TestZapLogForwards(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	log := logger.NewZapLog(logger.NewDeferLog(), zap.New(core))

	log.AddID(logger.MsgID_Link_AmbiguousExport, logger.Warning, &logger.MsgLocation{File: "c.js", Line: 1}, "ambiguous")
	log.AddError(nil, "failed")

	entries := observed.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "ambiguous", entries[0].Message)
	assert.Equal(t, "ambiguous-export", entries[0].ContextMap()["id"])
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)

	assert.True(t, log.HasErrors())
	assert.Len(t, log.Done(), 2)
}
