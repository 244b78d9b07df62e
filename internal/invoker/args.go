package invoker

import "github.com/averlard/custos/internal/domain"

// BackupArgs maps a backup target onto engine argv.
func BackupArgs(t domain.BackupTarget) []string {
	args := []string{"backup", "--repo", t.Repository}
	args = append(args, t.Paths...)
	for _, exclude := range t.Excludes {
		args = append(args, "--exclude", exclude)
	}
	for _, tag := range t.Tags {
		args = append(args, "--tag", tag)
	}
	return args
}

// RestoreArgs maps a restore target onto engine argv.
func RestoreArgs(t domain.RestoreTarget) []string {
	args := []string{"restore", t.SnapshotID, "--repo", t.Repository, "--target", t.TargetPath}
	for _, include := range t.Include {
		args = append(args, "--include", include)
	}
	return args
}

// Args maps a job target onto engine argv according to its kind.
func Args(target domain.JobTarget) []string {
	if target.Backup != nil {
		return BackupArgs(*target.Backup)
	}
	if target.Restore != nil {
		return RestoreArgs(*target.Restore)
	}
	return nil
}
