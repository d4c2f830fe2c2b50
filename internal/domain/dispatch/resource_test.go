package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResourceTag_ConflictsWith(t *testing.T) {
	t.Parallel()

	repo := func(id string, op Operation) ResourceTag {
		return NewResourceTag(ResourceTypeRepository, id, op)
	}

	tests := []struct {
		name string
		a, b ResourceTag
		want bool
	}{
		{name: "read read", a: repo("r1", OperationRead), b: repo("r1", OperationRead), want: false},
		{name: "read execute", a: repo("r1", OperationRead), b: repo("r1", OperationExecute), want: false},
		{name: "execute execute", a: repo("r1", OperationExecute), b: repo("r1", OperationExecute), want: false},
		{name: "read update", a: repo("r1", OperationRead), b: repo("r1", OperationUpdate), want: true},
		{name: "update update", a: repo("r1", OperationUpdate), b: repo("r1", OperationUpdate), want: true},
		{name: "execute delete", a: repo("r1", OperationExecute), b: repo("r1", OperationDelete), want: true},
		{name: "create read", a: repo("r1", OperationCreate), b: repo("r1", OperationRead), want: true},
		{name: "different ids", a: repo("r1", OperationUpdate), b: repo("r2", OperationUpdate), want: false},
		{
			name: "different types",
			a:    repo("r1", OperationDelete),
			b:    NewResourceTag(ResourceTypeConsumer, "r1", OperationDelete),
			want: false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.a.ConflictsWith(tt.b))
			assert.Equal(t, tt.want, tt.b.ConflictsWith(tt.a), "conflict must be symmetric")
		})
	}
}

func TestResourceTag_ResponseTo(t *testing.T) {
	t.Parallel()

	repo := func(op Operation) ResourceTag {
		return NewResourceTag(ResourceTypeRepository, "zoo", op)
	}

	tests := []struct {
		name     string
		proposed ResourceTag
		held     ResourceTag
		want     Response
	}{
		{name: "no conflict", proposed: repo(OperationRead), held: repo(OperationRead), want: ResponseAccepted},
		{name: "update behind update", proposed: repo(OperationUpdate), held: repo(OperationUpdate), want: ResponsePostponed},
		{name: "read behind update", proposed: repo(OperationRead), held: repo(OperationUpdate), want: ResponsePostponed},
		{name: "update behind read", proposed: repo(OperationUpdate), held: repo(OperationRead), want: ResponsePostponed},
		{name: "anything behind delete", proposed: repo(OperationRead), held: repo(OperationDelete), want: ResponseRejected},
		{name: "create against existing", proposed: repo(OperationCreate), held: repo(OperationRead), want: ResponseRejected},
		{name: "delete behind create", proposed: repo(OperationDelete), held: repo(OperationCreate), want: ResponsePostponed},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.proposed.ResponseTo(tt.held))
		})
	}
}

func TestResourceTag_Validate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, NewResourceTag(ResourceTypeContentUnit, "u1", OperationRead).Validate())
	assert.Error(t, NewResourceTag("bogus", "u1", OperationRead).Validate())
	assert.Error(t, NewResourceTag(ResourceTypeContentUnit, "", OperationRead).Validate())
	assert.Error(t, NewResourceTag(ResourceTypeContentUnit, "u1", "chmod").Validate())
}

func TestResourceTag_String(t *testing.T) {
	t.Parallel()

	tag := NewResourceTag(ResourceTypeRepository, "zoo", OperationUpdate)
	assert.Equal(t, "repository:zoo(update)", tag.String())
	assert.Equal(t, "repository:zoo", tag.Key().String())
}

func TestResponse_Max(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ResponsePostponed, ResponseAccepted.Max(ResponsePostponed))
	assert.Equal(t, ResponseRejected, ResponsePostponed.Max(ResponseRejected))
	assert.Equal(t, ResponseRejected, ResponseRejected.Max(ResponseAccepted))
}
