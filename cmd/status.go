// Copyright 2026 Warden Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/warden-systems/warden-core/pkg/models"
)

var (
	statusJSON bool

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the running agent's status snapshot",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
)

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON for scripting")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	status, err := newAPIClient(apiAddr).status(ctx)
	if err != nil {
		return err
	}

	if statusJSON {
		return printJSON(status)
	}

	fmt.Printf("Overall: %s (version %s, collected %s)\n",
		status.OverallHealth, status.Release.Version, status.CollectedAt.Local().Format(time.RFC3339))

	if len(status.Services) > 0 {
		fmt.Println()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SERVICE\tSTATE\tDESIRED\tPID\tUPTIME\tMESSAGE")
		for _, svc := range status.Services {
			state, desired, message := "unknown", "", ""
			if svc.Health != nil {
				state = svc.Health.ObservedState
				desired = svc.Health.DesiredState
				message = svc.Health.Message
			}

			pid := "-"
			if svc.Pid > 0 {
				pid = fmt.Sprintf("%d", svc.Pid)
			}

			uptime := "-"
			if svc.UptimeSeconds > 0 {
				uptime = (time.Duration(svc.UptimeSeconds) * time.Second).String()
			}

			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", svc.Name, state, desired, pid, uptime, message)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Println()
	printBackupBlock(status.Backups)

	if status.Host != nil {
		fmt.Println()
		printHostBlock(status.Host)
	}

	return nil
}

func printBackupBlock(backups models.BackupStatus) {
	line := fmt.Sprintf("Backups: %d recent", len(backups.Last))
	if backups.InProgress {
		line += ", one in progress"
	}
	if backups.NextScheduledAt != nil {
		line += fmt.Sprintf(", next scheduled %s", backups.NextScheduledAt.Local().Format(time.RFC3339))
	}
	if backups.InQuietHours {
		line += " (quiet hours)"
	}
	fmt.Println(line)

	for _, summary := range backups.Last {
		fmt.Printf("  %s  %s  %s  %s\n",
			summary.ID,
			summary.CreatedAt.Local().Format(time.RFC3339),
			summary.Reason,
			formatBytes(summary.SizeBytes),
		)
	}
}

func printHostBlock(host *models.Host) {
	parts := make([]string, 0, 3)
	if host.CPU != nil {
		parts = append(parts, fmt.Sprintf("cpu %.0f%% of %d cores", host.CPU.UsedPercent, host.CPU.CoreCount))
	}
	if host.Memory != nil && host.Memory.TotalBytes > 0 {
		parts = append(parts, fmt.Sprintf("memory %s/%s",
			formatBytes(int64(host.Memory.UsedBytes)), formatBytes(int64(host.Memory.TotalBytes))))
	}
	if host.Disk != nil && host.Disk.DataPartitionTotalBytes > 0 {
		parts = append(parts, fmt.Sprintf("disk %s/%s",
			formatBytes(int64(host.Disk.DataPartitionUsedBytes)), formatBytes(int64(host.Disk.DataPartitionTotalBytes))))
	}

	if len(parts) == 0 {
		return
	}

	fmt.Print("Host: ")
	for i, part := range parts {
		if i > 0 {
			fmt.Print(", ")
		}
		fmt.Print(part)
	}
	fmt.Println()
}
