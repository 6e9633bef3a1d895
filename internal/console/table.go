package console

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/micro-nova/tabyctl/internal/models"
)

const urlColumnMax = 48

// renderTable lays out instances as aligned columns.
func renderTable(insts []models.Instance) string {
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tPID\tNAME\tRTSP\tHTTP\tURL")
	for _, inst := range insts {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%s\t%s\n",
			inst.ID, inst.State, inst.PID, inst.Name,
			portCell(inst.RTSPPort), portCell(inst.HTTPPort), shorten(inst.Source.URL, urlColumnMax))
	}
	_ = tw.Flush()
	return strings.TrimRight(b.String(), "\n")
}

func portCell(p *int) string {
	if p == nil {
		return "-"
	}
	return strconv.Itoa(*p)
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
