package invoker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/averlard/custos/internal/domain"
)

func TestBackupArgs(t *testing.T) {
	args := BackupArgs(domain.BackupTarget{
		Repository: "/srv/repo",
		Paths:      []string{"/home", "/etc"},
		Excludes:   []string{"*.tmp", "node_modules"},
		Tags:       []string{"nightly"},
	})

	assert.Equal(t, []string{
		"backup", "--repo", "/srv/repo",
		"/home", "/etc",
		"--exclude", "*.tmp",
		"--exclude", "node_modules",
		"--tag", "nightly",
	}, args)
}

func TestBackupArgsMinimal(t *testing.T) {
	args := BackupArgs(domain.BackupTarget{
		Repository: "/srv/repo",
		Paths:      []string{"/data"},
	})

	assert.Equal(t, []string{"backup", "--repo", "/srv/repo", "/data"}, args)
}

func TestRestoreArgs(t *testing.T) {
	args := RestoreArgs(domain.RestoreTarget{
		Repository: "/srv/repo",
		SnapshotID: "ab12cd34",
		TargetPath: "/restore",
		Include:    []string{"/home/alice"},
	})

	assert.Equal(t, []string{
		"restore", "ab12cd34",
		"--repo", "/srv/repo",
		"--target", "/restore",
		"--include", "/home/alice",
	}, args)
}

func TestArgsDispatchesOnKind(t *testing.T) {
	backup := domain.JobTarget{Backup: &domain.BackupTarget{Repository: "r", Paths: []string{"/a"}}}
	restore := domain.JobTarget{Restore: &domain.RestoreTarget{Repository: "r", SnapshotID: "s", TargetPath: "/t"}}

	assert.Equal(t, "backup", Args(backup)[0])
	assert.Equal(t, "restore", Args(restore)[0])
	assert.Nil(t, Args(domain.JobTarget{}))
}
