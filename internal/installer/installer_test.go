package installer

import "testing"

func TestRequiredPackageStepsCoverEveryPackageManager(t *testing.T) {
	distro := &DistroInfo{ID: "ubuntu", PkgManager: "apt"}
	steps := RequiredPackageSteps(distro)
	if len(steps) == 0 {
		t.Fatal("expected at least one package step")
	}
	for _, step := range steps {
		for _, mgr := range []string{"apt", "yum", "dnf", "pacman", "zypper"} {
			if len(step.Packages[mgr]) == 0 {
				t.Errorf("step %q has no packages for %q", step.Step, mgr)
			}
		}
	}
}

func TestRequiredPackageStepsIncludeMdadmAndSmartmontools(t *testing.T) {
	steps := RequiredPackageSteps(&DistroInfo{PkgManager: "apt"})
	names := make(map[string]bool)
	for _, s := range steps {
		names[s.Step] = true
	}
	for _, want := range []string{"mdadm", "smartmontools", "hdparm"} {
		if !names[want] {
			t.Errorf("expected a package step named %q", want)
		}
	}
}
