package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

func main() {
	var (
		courseID string
		testID   string
		minutes  int
	)
	flag.StringVar(&courseID, "course", "course-demo", "Course ID")
	flag.StringVar(&testID, "test", "test-demo", "Test ID")
	flag.IntVar(&minutes, "minutes", 10, "Test duration in minutes")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	testRepo := repository.NewTestRepository(pool)

	fmt.Printf("=== Seeding test %s in course %s ===\n", testID, courseID)

	def := &model.TestDefinition{
		ID:              testID,
		CourseID:        courseID,
		LectureID:       testID + "-lecture",
		ChapterNumber:   1,
		EducatorID:      "educator-demo",
		Title:           "Chapter 1 Check",
		DurationMinutes: minutes,
		PassingScore:    model.DefaultPassingScore,
	}

	seeds := []struct {
		text    string
		options []string
		answer  string
	}{
		{"Which planet is closest to the sun?", []string{"Venus", "Mercury", "Mars", "Earth"}, "Mercury"},
		{"What is 7 x 8?", []string{"54", "56", "58", "64"}, "56"},
		{"Which gas do plants absorb?", []string{"Oxygen", "Nitrogen", "Carbon dioxide", "Helium"}, "Carbon dioxide"},
		{"H2O is the formula of?", []string{"Salt", "Water", "Ammonia", "Ozone"}, "Water"},
	}
	for i, s := range seeds {
		def.Questions = append(def.Questions, model.Question{
			ID:            fmt.Sprintf("%s-q%d", testID, i+1),
			Text:          s.text,
			Type:          model.QuestionTypeMultipleChoice,
			Options:       s.options,
			CorrectAnswer: s.answer,
			OrderNum:      i + 1,
		})
	}
	def.Questions = append(def.Questions, model.Question{
		ID:       fmt.Sprintf("%s-q%d", testID, len(seeds)+1),
		Text:     "Explain in one sentence why the sky is blue.",
		Type:     model.QuestionTypeEssay,
		OrderNum: len(seeds) + 1,
	})

	if err := testRepo.Save(ctx, def); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed test")
	}

	fmt.Printf("Seed completed! %d questions, %d minutes, passing score %d.\n",
		len(def.Questions), def.DurationMinutes, def.PassingScore)
}
