package services

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"studypal_go_backend/internal/models"
	"studypal_go_backend/internal/plans"
)

// UserService owns user profiles and their plan attribute. The plan is only
// mutated here, by the billing flows; the ledger and the controller read it.
type UserService struct {
	db *gorm.DB
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

// CreateOrUpdateUser upserts the profile row on sign-in.
func (s *UserService) CreateOrUpdateUser(authID, email, name string) (*models.User, error) {
	user := models.User{
		AuthID: authID,
		Email:  email,
		Name:   name,
	}
	result := s.db.Where(models.User{AuthID: authID}).FirstOrCreate(&user)
	if result.Error != nil {
		return nil, result.Error
	}
	return &user, nil
}

func (s *UserService) GetUserByID(id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *UserService) GetUserByStripeCustomerID(customerID string) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, "stripe_customer_id = ?", customerID).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// GetPlan returns the user's current plan, defaulting to free when the
// profile cannot be read.
func (s *UserService) GetPlan(id uuid.UUID) plans.Plan {
	user, err := s.GetUserByID(id)
	if err != nil {
		return plans.Free
	}
	return plans.Parse(user.PlanType)
}

// UpdatePlan records a plan change from the billing flows.
func (s *UserService) UpdatePlan(id uuid.UUID, plan plans.Plan) error {
	return s.db.Model(&models.User{}).
		Where("id = ?", id).
		Update("plan_type", string(plan)).Error
}

// SetStripeCustomerID links the user to their Stripe customer.
func (s *UserService) SetStripeCustomerID(id uuid.UUID, customerID string) error {
	return s.db.Model(&models.User{}).
		Where("id = ?", id).
		Update("stripe_customer_id", customerID).Error
}
