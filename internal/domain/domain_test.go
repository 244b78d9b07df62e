package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatusTerminal(t *testing.T) {
	assert.False(t, JobStatusRunning.Terminal())
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
	assert.True(t, JobStatusCancelled.Terminal())
	assert.False(t, JobStatus("unknown").Terminal())
}

func TestIdentityCanAccess(t *testing.T) {
	alice := Identity{UserID: "alice"}
	admin := Identity{UserID: "root", Admin: true}

	assert.True(t, alice.CanAccess("alice"))
	assert.False(t, alice.CanAccess("bob"))
	assert.True(t, admin.CanAccess("alice"))
	assert.True(t, admin.CanAccess("root"))
}

func TestJobTargetRepository(t *testing.T) {
	backup := JobTarget{Backup: &BackupTarget{Repository: "/srv/a"}}
	restore := JobTarget{Restore: &RestoreTarget{Repository: "/srv/b"}}

	assert.Equal(t, "/srv/a", backup.Repository())
	assert.Equal(t, "/srv/b", restore.Repository())
	assert.Empty(t, JobTarget{}.Repository())
}
