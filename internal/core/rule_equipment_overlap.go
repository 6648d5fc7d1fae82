package core

import (
	"context"
	"fmt"

	"labcore/pkg/domain"
)

// EquipmentOverlapRule warns when a piece of equipment has more than one open
// usage log. Double booking is reported, never blocked.
func EquipmentOverlapRule() domain.Rule {
	return equipmentOverlapRule{}
}

type equipmentOverlapRule struct{}

const equipmentOverlapName = "equipment_overlap"

func (equipmentOverlapRule) Name() string { return equipmentOverlapName }

func (equipmentOverlapRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	seen := make(map[string]struct{})
	for _, change := range changes {
		if change.Entity != domain.EntityUsageLog || change.After.Empty() {
			continue
		}
		log, ok := domain.DecodePayload[domain.EquipmentUsageLog](change.After)
		if !ok || !log.IsActive() || log.Historical {
			continue
		}
		if _, done := seen[log.EquipmentID]; done {
			continue
		}
		seen[log.EquipmentID] = struct{}{}

		var active []string
		for _, other := range view.UsageLogsFor(log.EquipmentID) {
			if other.IsActive() && !other.Historical {
				active = append(active, other.ID)
			}
		}
		if len(active) > 1 {
			res.Violations = append(res.Violations, warnViolation(equipmentOverlapName, domain.EntityUsageLog, log.ID,
				fmt.Sprintf("equipment %s has %d overlapping active uses: %v", log.EquipmentID, len(active), active)))
		}
	}
	return res, nil
}
