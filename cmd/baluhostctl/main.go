// baluhostctl — operator CLI for the BaluHost storage & device control
// plane: RAID arrays, monitoring, scheduled jobs, refresh tokens, and
// file metadata, all driven through the same collaborator interface
// the REST layer uses.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/baluhost/baluhost/internal/config"
	"github.com/baluhost/baluhost/internal/core"
	"github.com/baluhost/baluhost/internal/installer"
	"github.com/baluhost/baluhost/internal/model"
	"github.com/baluhost/baluhost/internal/output"
)

var version = "0.1.0"

var (
	configFile string
	outputPath string
	quiet      bool
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "baluhostctl",
		Short:   "Control plane CLI for a BaluHost NAS",
		Version: version,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVarP(&outputPath, "output", "o", "-", "Output file path (- for stdout)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(
		newRaidCmd(),
		newDisksCmd(),
		newMonitorCmd(),
		newJobsCmd(),
		newTokensCmd(),
		newFilesCmd(),
		newToolsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func progress() *output.Progress {
	return output.NewVerboseProgress(!quiet, verbose)
}

// withCore loads configuration, builds a Core, runs fn, and tears the
// Core down afterward — the shape every subcommand shares.
func withCore(fn func(ctx context.Context, c *core.Core) error) error {
	p := progress()
	ctx := context.Background()

	p.Log("loading configuration")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	p.Log("wiring core components (mode=%s)", cfg.Mode)
	c, err := core.New(ctx, cfg, os.Getpid())
	if err != nil {
		return fmt.Errorf("build core: %w", err)
	}
	defer func() {
		if err := c.Stop(); err != nil {
			p.Log("shutdown error: %v", err)
		}
	}()

	return fn(ctx, c)
}

func parseRaidLevel(s string) (model.RaidLevel, error) {
	switch strings.ToLower(s) {
	case "raid0", "0":
		return model.RaidLevel0, nil
	case "raid1", "1":
		return model.RaidLevel1, nil
	case "raid5", "5":
		return model.RaidLevel5, nil
	case "raid6", "6":
		return model.RaidLevel6, nil
	case "raid10", "10":
		return model.RaidLevel10, nil
	default:
		return 0, fmt.Errorf("unknown raid level %q", s)
	}
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// --- raid ---

func newRaidCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "raid", Short: "Manage RAID arrays"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List every known RAID array",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCore(func(ctx context.Context, c *core.Core) error {
					return output.WriteJSON(c.Raid.List(), outputPath)
				})
			},
		},
		newRaidCreateCmd(),
		&cobra.Command{
			Use:   "delete <name>",
			Short: "Delete an array",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCore(func(ctx context.Context, c *core.Core) error {
					return c.Raid.DeleteArray(ctx, args[0])
				})
			},
		},
		&cobra.Command{
			Use:   "fail-device <array> <device>",
			Short: "Mark a member device as faulty",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCore(func(ctx context.Context, c *core.Core) error {
					return c.Raid.FailDevice(ctx, args[0], args[1])
				})
			},
		},
		&cobra.Command{
			Use:   "remove-device <array> <device>",
			Short: "Remove a faulty or spare device",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCore(func(ctx context.Context, c *core.Core) error {
					return c.Raid.RemoveDevice(ctx, args[0], args[1])
				})
			},
		},
		newRaidAddSpareCmd(),
		&cobra.Command{
			Use:   "set-bitmap <array> <none|internal>",
			Short: "Set an array's bitmap mode",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				var mode model.Bitmap
				if strings.EqualFold(args[1], "internal") {
					mode = model.BitmapInternal
				}
				return withCore(func(ctx context.Context, c *core.Core) error {
					return c.Raid.SetBitmap(ctx, args[0], mode)
				})
			},
		},
		newRaidSyncLimitsCmd(),
		&cobra.Command{
			Use:   "scrub <array> <check|repair>",
			Short: "Start a scrub or repair pass",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				action := model.SyncCheck
				if strings.EqualFold(args[1], "repair") {
					action = model.SyncRepair
				}
				return withCore(func(ctx context.Context, c *core.Core) error {
					return c.Raid.StartScrub(ctx, args[0], action)
				})
			},
		},
	)
	return cmd
}

func newRaidCreateCmd() *cobra.Command {
	var (
		level   string
		devices string
		spares  string
		chunkKB int
	)
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new array",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lvl, err := parseRaidLevel(level)
			if err != nil {
				return err
			}
			return withCore(func(ctx context.Context, c *core.Core) error {
				return c.Raid.CreateArray(ctx, args[0], lvl, splitCSV(devices), splitCSV(spares), chunkKB)
			})
		},
	}
	cmd.Flags().StringVar(&level, "level", "raid1", "RAID level: raid0, raid1, raid5, raid6, raid10")
	cmd.Flags().StringVar(&devices, "devices", "", "Comma-separated member devices")
	cmd.Flags().StringVar(&spares, "spares", "", "Comma-separated spare devices")
	cmd.Flags().IntVar(&chunkKB, "chunk-kb", 0, "Stripe chunk size in KB (ignored for raid1)")
	return cmd
}

func newRaidAddSpareCmd() *cobra.Command {
	var sizeBytes int64
	cmd := &cobra.Command{
		Use:   "add-spare <array> <device>",
		Short: "Add a spare device to an array",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(func(ctx context.Context, c *core.Core) error {
				return c.Raid.AddSpare(ctx, args[0], args[1], sizeBytes)
			})
		},
	}
	cmd.Flags().Int64Var(&sizeBytes, "size-bytes", 0, "Device size in bytes")
	return cmd
}

func newRaidSyncLimitsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-sync-limits <array> <min-kb> <max-kb>",
		Short: "Bound an array's resync/scrub throughput",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			minKB, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("min-kb: %w", err)
			}
			maxKB, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("max-kb: %w", err)
			}
			return withCore(func(ctx context.Context, c *core.Core) error {
				return c.Raid.SetSyncLimits(ctx, args[0], minKB, maxKB)
			})
		},
	}
	return cmd
}

// --- disks ---

func newDisksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disks",
		Short: "List devices not currently in any array",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(func(ctx context.Context, c *core.Core) error {
				free, err := c.Raid.ListFreeDevices(ctx)
				if err != nil {
					return err
				}
				return output.WriteJSON(free, outputPath)
			})
		},
	}
}

// --- monitor ---

func newMonitorCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "monitor", Short: "Read current and historical metrics"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "current",
			Short: "Show the latest CPU, memory, network, disk, and SMART readings",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCore(func(ctx context.Context, c *core.Core) error {
					cpu, _ := c.Monitor.CurrentCPU()
					mem, _ := c.Monitor.CurrentMemory()
					net, _ := c.Monitor.CurrentNetwork()
					snapshot := struct {
						CPU   model.CpuSample             `json:"cpu"`
						Mem   model.MemorySample          `json:"memory"`
						Net   model.NetworkSample         `json:"network"`
						Disks map[string]model.DiskSample `json:"disks"`
					}{cpu, mem, net, c.Monitor.CurrentDisks()}
					return output.WriteJSON(snapshot, outputPath)
				})
			},
		},
		&cobra.Command{
			Use:   "smart <device>",
			Short: "Show the latest SMART record for a device",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCore(func(ctx context.Context, c *core.Core) error {
					rec, ok := c.Monitor.CurrentSmart(args[0])
					if !ok {
						return fmt.Errorf("no SMART record for %s yet", args[0])
					}
					return output.WriteJSON(rec, outputPath)
				})
			},
		},
		newMonitorHistoryCmd(),
		&cobra.Command{
			Use:   "health",
			Short: "Show the derived health snapshot",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCore(func(ctx context.Context, c *core.Core) error {
					return output.WriteJSON(c.Monitor.Health(), outputPath)
				})
			},
		},
	)
	return cmd
}

func newMonitorHistoryCmd() *cobra.Command {
	var (
		kind   string
		device string
		from   string
		to     string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show historical samples for a metric kind",
		RunE: func(cmd *cobra.Command, args []string) error {
			fromT, toT, err := parseRange(from, to)
			if err != nil {
				return err
			}
			return withCore(func(ctx context.Context, c *core.Core) error {
				switch strings.ToLower(kind) {
				case "cpu":
					samples, err := c.Monitor.HistoryCPU(ctx, fromT, toT)
					if err != nil {
						return err
					}
					return output.WriteJSON(samples, outputPath)
				case "disk-io":
					if device == "" {
						return fmt.Errorf("--device is required for history kind disk-io")
					}
					samples, err := c.Monitor.HistoryDiskIO(ctx, device, fromT, toT)
					if err != nil {
						return err
					}
					return output.WriteJSON(samples, outputPath)
				default:
					return fmt.Errorf("unknown history kind %q (use: cpu, or disk-io --device)", kind)
				}
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "cpu", "Metric kind: cpu or disk-io")
	cmd.Flags().StringVar(&device, "device", "", "Block device name for kind disk-io (e.g. sda)")
	cmd.Flags().StringVar(&from, "from", "", "Range start, RFC3339 (default: 1h ago)")
	cmd.Flags().StringVar(&to, "to", "", "Range end, RFC3339 (default: now)")
	return cmd
}

func parseRange(from, to string) (time.Time, time.Time, error) {
	now := time.Now()
	fromT := now.Add(-time.Hour)
	toT := now
	if from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("--from: %w", err)
		}
		fromT = t
	}
	if to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("--to: %w", err)
		}
		toT = t
	}
	return fromT, toT, nil
}

// --- jobs ---

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "jobs", Short: "Inspect and control scheduled jobs"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List every registered job",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCore(func(ctx context.Context, c *core.Core) error {
					return output.WriteJSON(c.Scheduler.ListJobs(), outputPath)
				})
			},
		},
		&cobra.Command{
			Use:   "get <name>",
			Short: "Show one job's state",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCore(func(ctx context.Context, c *core.Core) error {
					job, err := c.Scheduler.GetJob(args[0])
					if err != nil {
						return err
					}
					return output.WriteJSON(job, outputPath)
				})
			},
		},
		&cobra.Command{
			Use:   "run-now <name>",
			Short: "Trigger a job immediately, outside its schedule",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCore(func(ctx context.Context, c *core.Core) error {
					return c.Scheduler.RunNow(ctx, args[0])
				})
			},
		},
		&cobra.Command{
			Use:   "enable <name>",
			Short: "Enable a job",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCore(func(ctx context.Context, c *core.Core) error {
					return c.Scheduler.SetEnabled(args[0], true)
				})
			},
		},
		&cobra.Command{
			Use:   "disable <name>",
			Short: "Disable a job",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCore(func(ctx context.Context, c *core.Core) error {
					return c.Scheduler.SetEnabled(args[0], false)
				})
			},
		},
		newJobsHistoryCmd(),
	)
	return cmd
}

func newJobsHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <name>",
		Short: "Show a job's execution history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(func(ctx context.Context, c *core.Core) error {
				execs, err := c.Scheduler.History(ctx, args[0], limit)
				if err != nil {
					return err
				}
				return output.WriteJSON(execs, outputPath)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum executions to return")
	return cmd
}

// --- tokens ---

func newTokensCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "tokens", Short: "Manage refresh tokens"}
	cmd.AddCommand(
		newTokensIssueCmd(),
		&cobra.Command{
			Use:   "verify <jti> <token>",
			Short: "Verify a presented refresh token",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCore(func(ctx context.Context, c *core.Core) error {
					userID, deviceID, err := c.Tokens.Verify(ctx, args[0], args[1])
					if err != nil {
						return err
					}
					return output.WriteJSON(map[string]string{"userId": userID, "deviceId": deviceID}, outputPath)
				})
			},
		},
		&cobra.Command{
			Use:   "revoke <jti> <reason>",
			Short: "Revoke a single token",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCore(func(ctx context.Context, c *core.Core) error {
					return c.Tokens.Revoke(ctx, args[0], args[1])
				})
			},
		},
		&cobra.Command{
			Use:   "revoke-user <user-id> <reason>",
			Short: "Revoke every token for a user",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCore(func(ctx context.Context, c *core.Core) error {
					return c.Tokens.RevokeAllForUser(ctx, args[0], args[1])
				})
			},
		},
		&cobra.Command{
			Use:   "revoke-device <user-id> <device-id> <reason>",
			Short: "Revoke every token for one device",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCore(func(ctx context.Context, c *core.Core) error {
					return c.Tokens.RevokeDevice(ctx, args[0], args[1], args[2])
				})
			},
		},
		&cobra.Command{
			Use:   "cleanup",
			Short: "Purge tokens past their grace period",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCore(func(ctx context.Context, c *core.Core) error {
					n, err := c.Tokens.Cleanup(ctx)
					if err != nil {
						return err
					}
					return output.WriteJSON(map[string]int64{"deleted": n}, outputPath)
				})
			},
		},
	)
	return cmd
}

func newTokensIssueCmd() *cobra.Command {
	var ip, userAgent string
	cmd := &cobra.Command{
		Use:   "issue <user-id> <device-id>",
		Short: "Issue a new refresh token",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(func(ctx context.Context, c *core.Core) error {
				token, jti, err := c.Tokens.Issue(ctx, args[0], args[1], ip, userAgent)
				if err != nil {
					return err
				}
				return output.WriteJSON(map[string]string{"token": token, "jti": jti}, outputPath)
			})
		},
	}
	cmd.Flags().StringVar(&ip, "ip", "", "Client IP recorded with the token")
	cmd.Flags().StringVar(&userAgent, "user-agent", "", "Client user agent recorded with the token")
	return cmd
}

// --- files ---

func newFilesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "files", Short: "Browse and manage file metadata"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "mountpoints",
			Short: "List every known mountpoint",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCore(func(ctx context.Context, c *core.Core) error {
					mps, err := c.Files.ListMountpoints(ctx)
					if err != nil {
						return err
					}
					return output.WriteJSON(mps, outputPath)
				})
			},
		},
		&cobra.Command{
			Use:   "list <mountpoint> <path>",
			Short: "List a directory's direct children",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCore(func(ctx context.Context, c *core.Core) error {
					entries, err := c.Files.List(ctx, args[0], args[1])
					if err != nil {
						return err
					}
					return output.WriteJSON(entries, outputPath)
				})
			},
		},
		newFilesWriteCmd(),
		&cobra.Command{
			Use:   "mkdir <mountpoint> <path> <owner-id>",
			Short: "Record a new directory",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCore(func(ctx context.Context, c *core.Core) error {
					return c.Files.Write(ctx, args[0], args[1], args[2], 0, 0, true)
				})
			},
		},
		&cobra.Command{
			Use:   "rename <mountpoint> <old-path> <new-path>",
			Short: "Rename a file within a mountpoint",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCore(func(ctx context.Context, c *core.Core) error {
					return c.Files.Rename(ctx, args[0], args[1], args[2])
				})
			},
		},
		&cobra.Command{
			Use:   "move <src-mountpoint> <src-path> <dst-mountpoint> <dst-path>",
			Short: "Move a file, rejecting cross-mountpoint moves",
			Args:  cobra.ExactArgs(4),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCore(func(ctx context.Context, c *core.Core) error {
					return c.Files.Move(ctx, args[0], args[1], args[2], args[3])
				})
			},
		},
		&cobra.Command{
			Use:   "delete <mountpoint> <path>",
			Short: "Delete a file and credit its size back to quota",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCore(func(ctx context.Context, c *core.Core) error {
					return c.Files.Delete(ctx, args[0], args[1])
				})
			},
		},
		&cobra.Command{
			Use:   "quota <user-id>",
			Short: "Show a user's storage quota",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCore(func(ctx context.Context, c *core.Core) error {
					q, err := c.Files.Quota(ctx, args[0])
					if err != nil {
						return err
					}
					return output.WriteJSON(q, outputPath)
				})
			},
		},
	)
	return cmd
}

func newFilesWriteCmd() *cobra.Command {
	var quotaDelta int64
	cmd := &cobra.Command{
		Use:   "write <mountpoint> <path> <owner-id> <size-bytes>",
		Short: "Record a file write (upload), admitted against quota",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := strconv.ParseInt(args[3], 10, 64)
			if err != nil {
				return fmt.Errorf("size-bytes: %w", err)
			}
			delta := quotaDelta
			if !cmd.Flags().Changed("quota-delta") {
				delta = size
			}
			return withCore(func(ctx context.Context, c *core.Core) error {
				return c.Files.Write(ctx, args[0], args[1], args[2], size, delta, false)
			})
		},
	}
	cmd.Flags().Int64Var(&quotaDelta, "quota-delta", 0, "Net quota change (defaults to size-bytes for new files; pass the size difference when overwriting)")
	return cmd
}

// --- tools ---

func newToolsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "tools", Short: "Manage the host's required system packages"}

	var dryRun bool
	installCmd := &cobra.Command{
		Use:   "install",
		Short: "Detect the Linux distribution and install mdadm, smartmontools, hdparm, cpupower, util-linux",
		RunE: func(cmd *cobra.Command, args []string) error {
			inst := &installer.Installer{DryRun: dryRun}
			return inst.Run()
		},
	}
	installCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be installed")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Show the detected distribution and required package steps",
		RunE: func(cmd *cobra.Command, args []string) error {
			distro, err := installer.DetectDistro()
			if err != nil {
				return err
			}
			steps := installer.RequiredPackageSteps(distro)
			return output.WriteJSON(struct {
				Distro *installer.DistroInfo  `json:"distro"`
				Steps  []installer.PackageSet `json:"steps"`
			}{distro, steps}, outputPath)
		},
	}

	cmd.AddCommand(installCmd, checkCmd)
	return cmd
}
