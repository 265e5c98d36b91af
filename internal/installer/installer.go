// Package installer detects the host Linux distribution and installs
// the handful of system packages BaluHost's procadapter shells out to:
// mdadm, smartmontools, hdparm, a CPU-frequency utility, and util-linux
// (which provides rtcwake). It never
// runs automatically — it backs the `baluhostctl tools install`
// subcommand, for first-time setup on a bare host.
package installer

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// Installer installs BaluHost's required system packages.
type Installer struct {
	DryRun bool
}

// DistroInfo holds OS and package manager details.
type DistroInfo struct {
	ID         string // "ubuntu", "centos", "fedora", "arch"
	VersionID  string
	PkgManager string // "apt", "yum", "dnf", "pacman", "zypper"
}

// PackageSet is one installation step: a label plus the package names
// for each package manager that provides it.
type PackageSet struct {
	Step     string
	Packages map[string][]string
}

// Run detects the distribution and installs every required package,
// continuing past individual failures so one missing package doesn't
// block the rest.
func (inst *Installer) Run() error {
	if runtime.GOOS != "linux" {
		return fmt.Errorf("baluhostctl tools install is only supported on Linux (current: %s)", runtime.GOOS)
	}
	if !inst.DryRun && os.Geteuid() != 0 {
		return fmt.Errorf("baluhostctl tools install requires root privileges (use sudo), or --dry-run")
	}

	distro, err := DetectDistro()
	if err != nil {
		return fmt.Errorf("detect distro: %w", err)
	}
	fmt.Printf("Detected: %s %s (package manager: %s)\n", distro.ID, distro.VersionID, distro.PkgManager)

	if !inst.DryRun {
		fmt.Println("Updating package index...")
		if err := updatePackageIndex(distro.PkgManager); err != nil {
			fmt.Printf("  WARNING: %v\n", err)
		}
	}

	for _, step := range RequiredPackageSteps(distro) {
		pkgs := step.Packages[distro.PkgManager]
		if len(pkgs) == 0 {
			continue
		}
		fmt.Printf("\n[%s] Installing: %s\n", step.Step, strings.Join(pkgs, " "))
		if inst.DryRun {
			fmt.Printf("  (dry-run) Would run: %s install %s\n", distro.PkgManager, strings.Join(pkgs, " "))
			continue
		}
		for _, pkg := range pkgs {
			if err := installPackages(distro.PkgManager, []string{pkg}); err != nil {
				fmt.Printf("  WARNING: failed to install %s: %v\n", pkg, err)
			} else {
				fmt.Printf("  OK: %s\n", pkg)
			}
		}
	}

	fmt.Println("\nInstallation complete. Run 'baluhostctl tools check' to verify.")
	return nil
}

// DetectDistro reads /etc/os-release to identify the distribution and
// maps it to a package manager.
func DetectDistro() (*DistroInfo, error) {
	data, err := os.ReadFile("/etc/os-release")
	if err != nil {
		return nil, fmt.Errorf("read /etc/os-release: %w", err)
	}

	info := &DistroInfo{}
	for _, line := range strings.Split(string(data), "\n") {
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		val := strings.Trim(parts[1], "\"")
		switch parts[0] {
		case "ID":
			info.ID = val
		case "VERSION_ID":
			info.VersionID = val
		}
	}

	switch info.ID {
	case "ubuntu", "debian", "linuxmint", "pop":
		info.PkgManager = "apt"
	case "centos", "rhel", "rocky", "almalinux", "ol":
		info.PkgManager = "yum"
	case "fedora":
		info.PkgManager = "dnf"
	case "arch", "manjaro":
		info.PkgManager = "pacman"
	case "opensuse", "sles":
		info.PkgManager = "zypper"
	default:
		return nil, fmt.Errorf("unsupported distribution: %s", info.ID)
	}
	return info, nil
}

// RequiredPackageSteps returns the ordered installation steps for every
// package procadapter.RealAdapter shells out to.
func RequiredPackageSteps(distro *DistroInfo) []PackageSet {
	return []PackageSet{
		{
			Step: "mdadm",
			Packages: map[string][]string{
				"apt": {"mdadm"}, "yum": {"mdadm"}, "dnf": {"mdadm"}, "pacman": {"mdadm"}, "zypper": {"mdadm"},
			},
		},
		{
			Step: "smartmontools",
			Packages: map[string][]string{
				"apt": {"smartmontools"}, "yum": {"smartmontools"}, "dnf": {"smartmontools"}, "pacman": {"smartmontools"}, "zypper": {"smartmontools"},
			},
		},
		{
			Step: "hdparm",
			Packages: map[string][]string{
				"apt": {"hdparm"}, "yum": {"hdparm"}, "dnf": {"hdparm"}, "pacman": {"hdparm"}, "zypper": {"hdparm"},
			},
		},
		{
			Step: "cpupower",
			Packages: map[string][]string{
				"apt": {"linux-tools-generic"}, "yum": {"kernel-tools"}, "dnf": {"kernel-tools"}, "pacman": {"cpupower"}, "zypper": {"cpupower"},
			},
		},
		{
			Step: "util-linux",
			Packages: map[string][]string{
				"apt": {"util-linux"}, "yum": {"util-linux"}, "dnf": {"util-linux"}, "pacman": {"util-linux"}, "zypper": {"util-linux"},
			},
		},
	}
}

func updatePackageIndex(pkgManager string) error {
	var cmd *exec.Cmd
	switch pkgManager {
	case "apt":
		cmd = exec.Command("apt-get", "update", "-qq")
		cmd.Env = append(os.Environ(), "DEBIAN_FRONTEND=noninteractive")
	case "yum":
		cmd = exec.Command("yum", "makecache", "-q")
	case "dnf":
		cmd = exec.Command("dnf", "makecache", "-q")
	case "pacman":
		cmd = exec.Command("pacman", "-Sy")
	default:
		return nil
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func installPackages(pkgManager string, packages []string) error {
	var cmd *exec.Cmd
	switch pkgManager {
	case "apt":
		args := append([]string{"install", "-y", "-qq"}, packages...)
		cmd = exec.Command("apt-get", args...)
		cmd.Env = append(os.Environ(), "DEBIAN_FRONTEND=noninteractive")
	case "yum":
		args := append([]string{"install", "-y"}, packages...)
		cmd = exec.Command("yum", args...)
	case "dnf":
		args := append([]string{"install", "-y"}, packages...)
		cmd = exec.Command("dnf", args...)
	case "pacman":
		args := append([]string{"-S", "--noconfirm"}, packages...)
		cmd = exec.Command("pacman", args...)
	case "zypper":
		args := append([]string{"install", "-y"}, packages...)
		cmd = exec.Command("zypper", args...)
	default:
		return fmt.Errorf("unsupported package manager: %s", pkgManager)
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
