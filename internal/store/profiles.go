package store

import (
	"context"
	"fmt"
)

func (s *PostgresStore) GetUserProfile(ctx context.Context, userID string) (UserProfile, error) {
	var (
		p                 UserProfile
		liked, disliked   stringList
		likedEx, dislikEx stringList
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, preferred_tone, preferred_length, to_json(topics_liked), to_json(topics_disliked),
			idea_style, to_json(examples_of_liked_ideas), to_json(examples_of_disliked_ideas), created_at, updated_at
		FROM user_profiles WHERE user_id = $1
	`, userID).Scan(&p.UserID, &p.PreferredTone, &p.PreferredLength, &liked, &disliked,
		&p.IdeaStyle, &likedEx, &dislikEx, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return UserProfile{}, notFound(err)
	}
	p.TopicsLiked = liked
	p.TopicsDisliked = disliked
	p.ExamplesOfLikedIdeas = likedEx
	p.ExamplesOfDislikedIdeas = dislikEx
	return p, nil
}

// CreateUserProfile inserts the default profile for userID, leaving an
// existing row untouched.
func (s *PostgresStore) CreateUserProfile(ctx context.Context, userID string) (UserProfile, error) {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO user_profiles (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`, userID); err != nil {
		return UserProfile{}, fmt.Errorf("insert profile: %w", err)
	}
	return s.GetUserProfile(ctx, userID)
}

func (s *PostgresStore) SaveUserProfile(ctx context.Context, p UserProfile) (UserProfile, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE user_profiles SET
			preferred_tone = $2,
			preferred_length = $3,
			topics_liked = $4::text[],
			topics_disliked = $5::text[],
			idea_style = $6,
			examples_of_liked_ideas = $7::text[],
			examples_of_disliked_ideas = $8::text[]
		WHERE user_id = $1
	`, p.UserID, p.PreferredTone, p.PreferredLength, nonNilStrings(p.TopicsLiked), nonNilStrings(p.TopicsDisliked),
		p.IdeaStyle, nonNilStrings(p.ExamplesOfLikedIdeas), nonNilStrings(p.ExamplesOfDislikedIdeas))
	if err != nil {
		return UserProfile{}, fmt.Errorf("save profile: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return UserProfile{}, err
	}
	return s.GetUserProfile(ctx, p.UserID)
}
