package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"academy-attendance/internal/model"
)

// PersonDirectory reads the identity provider's users collection. It is
// read-only; user management lives elsewhere.
type PersonDirectory struct {
	users *mongo.Collection
}

func NewPersonDirectory(db *MongoDB) *PersonDirectory {
	return &PersonDirectory{users: db.Collection("users")}
}

// FindByIdentifier matches code exactly against external id, email or phone.
func (d *PersonDirectory) FindByIdentifier(ctx context.Context, code string) (*model.Person, error) {
	var p model.Person
	err := d.users.FindOne(ctx, bson.M{"$or": bson.A{
		bson.M{"external_id": code},
		bson.M{"email": code},
		bson.M{"phone": code},
	}}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find person: %w", err)
	}
	return &p, nil
}

func (d *PersonDirectory) GetPerson(ctx context.Context, id string) (*model.Person, error) {
	var p model.Person
	err := d.users.FindOne(ctx, bson.M{"_id": id}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find person: %w", err)
	}
	return &p, nil
}

// ListEmployees returns every person holding an employee-like role.
func (d *PersonDirectory) ListEmployees(ctx context.Context) ([]model.Person, error) {
	cursor, err := d.users.Find(ctx, bson.M{"role": bson.M{"$in": bson.A{
		model.RoleAdmin, model.RoleStaff, model.RoleInstructor,
	}}})
	if err != nil {
		return nil, fmt.Errorf("find employees: %w", err)
	}
	var results []model.Person
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("decode employees: %w", err)
	}
	return results, nil
}
