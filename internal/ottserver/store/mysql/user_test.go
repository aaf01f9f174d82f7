package mysql

import (
	"context"
	"testing"

	v1 "github.com/maxiaolu1981/cretem/nexuscore/api/apiserver/v1"
	metav1 "github.com/maxiaolu1981/cretem/nexuscore/component-base/meta/v1"
	"github.com/maxiaolu1981/cretem/nexuscore/errors"

	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/code"
)

func newTestUser(name string) *v1.User {
	return &v1.User{
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Status:     1,
		Nickname:   name,
		Password:   "$2a$10$sometestbcrypthashvalueXXXXXXXXXXXXXXXXXXXXXXXXXXXXX",
		Email:      name + "@example.com",
	}
}

func TestUsers_CreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	store := &Users{db: db}
	ctx := context.Background()

	if err := store.Create(ctx, newTestUser("alice"), metav1.CreateOptions{}); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	got, err := store.Get(ctx, "alice", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.Name != "alice" || got.Email != "alice@example.com" {
		t.Fatalf("unexpected user returned: %+v", got)
	}
	if got.InstanceID == "" {
		t.Fatalf("expected instanceID to be generated on create")
	}

	_, err = store.Get(ctx, "nobody", metav1.GetOptions{})
	if !errors.IsCode(err, code.ErrUserNotFound) {
		t.Fatalf("expected user-not-found for missing user, got: %v", err)
	}
}

func TestUsers_CreateDuplicate(t *testing.T) {
	db := setupTestDB(t)
	store := &Users{db: db}
	ctx := context.Background()

	if err := store.Create(ctx, newTestUser("bob"), metav1.CreateOptions{}); err != nil {
		t.Fatalf("first Create returned error: %v", err)
	}

	err := store.Create(ctx, newTestUser("bob"), metav1.CreateOptions{})
	if err == nil {
		t.Fatalf("duplicate Create should fail")
	}
	if !errors.IsCode(err, code.ErrUserAlreadyExist) {
		t.Fatalf("expected user-already-exist, got: %v", err)
	}
}

func TestUsers_UpdateAndDelete(t *testing.T) {
	db := setupTestDB(t)
	store := &Users{db: db}
	ctx := context.Background()

	user := newTestUser("carol")
	if err := store.Create(ctx, user, metav1.CreateOptions{}); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	user.Nickname = "卡罗尔"
	if err := store.Update(ctx, user, metav1.UpdateOptions{}); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	got, err := store.Get(ctx, "carol", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.Nickname != "卡罗尔" {
		t.Fatalf("expected updated nickname, got %s", got.Nickname)
	}

	if err := store.Delete(ctx, "carol", metav1.DeleteOptions{}); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if err := store.Delete(ctx, "carol", metav1.DeleteOptions{}); !errors.IsCode(err, code.ErrUserNotFound) {
		t.Fatalf("deleting missing user should return user-not-found, got: %v", err)
	}
}

func TestUsers_ListFiltersDisabled(t *testing.T) {
	db := setupTestDB(t)
	store := &Users{db: db}
	ctx := context.Background()

	for _, name := range []string{"u1", "u2"} {
		if err := store.Create(ctx, newTestUser(name), metav1.CreateOptions{}); err != nil {
			t.Fatalf("Create(%s) returned error: %v", name, err)
		}
	}
	disabled := newTestUser("u3")
	disabled.Status = 0
	if err := store.Create(ctx, disabled, metav1.CreateOptions{}); err != nil {
		t.Fatalf("Create(u3) returned error: %v", err)
	}

	list, err := store.List(ctx, metav1.ListOptions{})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if list.TotalCount != 2 {
		t.Fatalf("expected 2 active users, got %d", list.TotalCount)
	}
	for _, item := range list.Items {
		if item.Name == "u3" {
			t.Fatalf("disabled user should not appear in list")
		}
	}
}
