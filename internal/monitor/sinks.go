package monitor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/jannikluhn/tlbc-monitor/internal/chain"
	internalcommon "github.com/jannikluhn/tlbc-monitor/internal/common"
	"github.com/jannikluhn/tlbc-monitor/internal/reporter"
)

const reportTimeLayout = "2006-01-02 15:04:05"

const equivocationReportTemplate = `Proposer: %s
Block step: %d
Detection time: %s

Equivocated blocks:
%s

Data for an equivocation proof by the first two equivocated blocks:

RLP encoded block header one:
%s

Signature of block header one:
%s

RLP encoded block header two:
%s

Signature of block header two:
%s

------------------------------

`

// addressHex renders an address the way the report files expect it:
// lowercase with 0x prefix.
func addressHex(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// writeSkip appends one line to the skip file: step, validator and the UTC
// wall-clock time of the skipped step.
func (a *App) writeSkip(skip reporter.SkippedProposal) error {
	_, err := fmt.Fprintf(a.skipWriter, "%d,%s,%s\n",
		skip.Step,
		addressHex(skip.Validator),
		internalcommon.StepToTime(skip.Step).Format(reportTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to write skip report: %w", err)
	}
	return nil
}

// writeOfflineReport writes one report file per offline incident, named
// after the validator and the covered step range.
func (a *App) writeOfflineReport(validator common.Address, missedSteps []uint64) error {
	filename := fmt.Sprintf("offline_report_%s_steps_%d_to_%d",
		addressHex(validator),
		missedSteps[0],
		missedSteps[len(missedSteps)-1],
	)

	report, err := json.Marshal(map[string]any{
		"validator":    addressHex(validator),
		"missed_steps": missedSteps,
	})
	if err != nil {
		return fmt.Errorf("failed to encode offline report: %w", err)
	}

	if err := os.WriteFile(filepath.Join(a.cfg.ReportDir, filename), report, 0644); err != nil {
		return fmt.Errorf("failed to write offline report: %w", err)
	}
	return nil
}

// writeEquivocationReport appends a human-readable report to the proposer's
// equivocation file. The first two blocks are included with their RLP
// encoded headers and signatures, usable as an on-chain equivocation proof.
func (a *App) writeEquivocationReport(blocks []*chain.Block) error {
	summaryLines := make([]string, len(blocks))
	for i, b := range blocks {
		summaryLines[i] = fmt.Sprintf("%s (%s)",
			b.Hash.Hex(),
			time.Unix(int64(b.Timestamp), 0).UTC().Format(reportTimeLayout),
		)
	}

	blockOne, blockTwo := blocks[0], blocks[1]
	report := fmt.Sprintf(equivocationReportTemplate,
		addressHex(blockOne.Proposer),
		blockOne.Step,
		time.Now().UTC().Format(reportTimeLayout),
		strings.Join(summaryLines, "\n"),
		hexutil.Encode(blockOne.HeaderRLP),
		hexutil.Encode(blockOne.Signature),
		hexutil.Encode(blockTwo.HeaderRLP),
		hexutil.Encode(blockTwo.Signature),
	)

	filename := fmt.Sprintf("equivocation_reports_for_proposer_%s", addressHex(blockOne.Proposer))
	f, err := os.OpenFile(filepath.Join(a.cfg.ReportDir, filename), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open equivocation report file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(report); err != nil {
		return fmt.Errorf("failed to write equivocation report: %w", err)
	}
	return nil
}
