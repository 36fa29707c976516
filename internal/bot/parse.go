package bot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"timeblocks/internal/apperrors"
	"timeblocks/internal/model"
	"timeblocks/internal/service"
)

// parseAddArgs reads "HH:MM-HH:MM title [#type]" for a block on day. An end
// earlier than the start rolls over to the next day.
func parseAddArgs(args string, day time.Time) (service.BlockInput, error) {
	fields := strings.Fields(args)
	if len(fields) < 2 {
		return service.BlockInput{}, fmt.Errorf("%w: usage /add HH:MM-HH:MM title [#type]", apperrors.ErrValidation)
	}
	span := strings.SplitN(fields[0], "-", 2)
	if len(span) != 2 {
		return service.BlockInput{}, fmt.Errorf("%w: expected a range like 09:00-10:30", apperrors.ErrValidation)
	}
	start, err := clockOn(day, span[0])
	if err != nil {
		return service.BlockInput{}, err
	}
	end, err := clockOn(day, span[1])
	if err != nil {
		return service.BlockInput{}, err
	}
	if !end.After(start) {
		end = end.AddDate(0, 0, 1)
	}

	title, blockType, err := splitType(fields[1:])
	if err != nil {
		return service.BlockInput{}, err
	}
	return service.BlockInput{Title: title, Type: blockType, Start: start, End: end}, nil
}

// parseQuickArgs reads "minutes title".
func parseQuickArgs(args string) (time.Duration, string, error) {
	fields := strings.Fields(args)
	if len(fields) < 2 {
		return 0, "", fmt.Errorf("%w: usage /quick minutes title", apperrors.ErrValidation)
	}
	minutes, err := strconv.Atoi(fields[0])
	if err != nil || minutes <= 0 {
		return 0, "", fmt.Errorf("%w: minutes must be a positive number", apperrors.ErrValidation)
	}
	return time.Duration(minutes) * time.Minute, strings.Join(fields[1:], " "), nil
}

// parseRoutineArgs reads "HH:MM minutes days title [#type]", days like 1,3,5.
func parseRoutineArgs(args string) (service.RoutineInput, error) {
	fields := strings.Fields(args)
	if len(fields) < 4 {
		return service.RoutineInput{}, fmt.Errorf("%w: usage /routine HH:MM minutes days title [#type]", apperrors.ErrValidation)
	}
	minutes, err := strconv.Atoi(fields[1])
	if err != nil || minutes <= 0 {
		return service.RoutineInput{}, fmt.Errorf("%w: minutes must be a positive number", apperrors.ErrValidation)
	}
	title, blockType, err := splitType(fields[3:])
	if err != nil {
		return service.RoutineInput{}, err
	}
	return service.RoutineInput{
		Title:    title,
		Type:     blockType,
		Start:    fields[0],
		Duration: time.Duration(minutes) * time.Minute,
		Days:     fields[2],
	}, nil
}

// splitReason splits "reason | resume token".
func splitReason(args string) (reason, token string) {
	reason, token, _ = strings.Cut(args, "|")
	return strings.TrimSpace(reason), strings.TrimSpace(token)
}

func splitType(words []string) (string, model.BlockType, error) {
	var blockType model.BlockType
	if last := words[len(words)-1]; strings.HasPrefix(last, "#") {
		parsed, err := model.ParseBlockType(strings.TrimPrefix(last, "#"))
		if err != nil {
			return "", "", err
		}
		blockType = parsed
		words = words[:len(words)-1]
	}
	title := strings.TrimSpace(strings.Join(words, " "))
	if title == "" {
		return "", "", fmt.Errorf("%w: title is required", apperrors.ErrValidation)
	}
	return title, blockType, nil
}

func clockOn(day time.Time, raw string) (time.Time, error) {
	hour, minute, err := model.ParseClock(raw)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := day.Date()
	return time.Date(y, m, d, hour, minute, 0, 0, day.Location()), nil
}
