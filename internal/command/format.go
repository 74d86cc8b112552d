package command

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/adamavenir/histkeep/internal/holes"
	"github.com/adamavenir/histkeep/internal/types"
)

func parseScope(value string) (int64, error) {
	scopeID, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || scopeID <= 0 {
		return 0, fmt.Errorf("invalid conversation id %q", value)
	}
	return scopeID, nil
}

func writeJSON(cmd *cobra.Command, value any) error {
	return json.NewEncoder(cmd.OutOrStdout()).Encode(value)
}

// newestIndex sorts after every message of scopeID.
func newestIndex(scopeID int64) types.MessageIndex {
	return types.MessageIndex{ScopeID: scopeID, MessageID: math.MaxInt64, Timestamp: math.MaxInt64}
}

// formatPosition prints an index the way it is entered on the command line.
func formatPosition(idx types.MessageIndex) string {
	if idx.Timestamp == 0 {
		return strconv.FormatInt(idx.MessageID, 10)
	}
	return fmt.Sprintf("%d:%d", idx.MessageID, idx.Timestamp)
}

func formatHole(hole holes.Hole) string {
	return fmt.Sprintf("[%s, %s)", formatPosition(hole.Low), formatPosition(hole.High))
}

func formatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}
