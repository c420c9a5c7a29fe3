package dimse

// dictionary holds the attributes used by query/retrieve identifiers, worklist
// queries and storage layouts. Tags outside it are addressed numerically.
var dictionary = map[string]Tag{
	"MediaStorageSOPClassUID":    NewTag(0x0002, 0x0002),
	"MediaStorageSOPInstanceUID": NewTag(0x0002, 0x0003),
	"TransferSyntaxUID":          NewTag(0x0002, 0x0010),

	"SpecificCharacterSet":        NewTag(0x0008, 0x0005),
	"ImageType":                   NewTag(0x0008, 0x0008),
	"SOPClassUID":                 NewTag(0x0008, 0x0016),
	"SOPInstanceUID":              NewTag(0x0008, 0x0018),
	"StudyDate":                   NewTag(0x0008, 0x0020),
	"SeriesDate":                  NewTag(0x0008, 0x0021),
	"AcquisitionDate":             NewTag(0x0008, 0x0022),
	"ContentDate":                 NewTag(0x0008, 0x0023),
	"StudyTime":                   NewTag(0x0008, 0x0030),
	"SeriesTime":                  NewTag(0x0008, 0x0031),
	"AcquisitionTime":             NewTag(0x0008, 0x0032),
	"ContentTime":                 NewTag(0x0008, 0x0033),
	"AccessionNumber":             NewTag(0x0008, 0x0050),
	"QueryRetrieveLevel":          NewTag(0x0008, 0x0052),
	"RetrieveAETitle":             NewTag(0x0008, 0x0054),
	"InstanceAvailability":        NewTag(0x0008, 0x0056),
	"Modality":                    NewTag(0x0008, 0x0060),
	"ModalitiesInStudy":           NewTag(0x0008, 0x0061),
	"SOPClassesInStudy":           NewTag(0x0008, 0x0062),
	"ConversionType":              NewTag(0x0008, 0x0064),
	"Manufacturer":                NewTag(0x0008, 0x0070),
	"InstitutionName":             NewTag(0x0008, 0x0080),
	"ReferringPhysicianName":      NewTag(0x0008, 0x0090),
	"StationName":                 NewTag(0x0008, 0x1010),
	"StudyDescription":            NewTag(0x0008, 0x1030),
	"SeriesDescription":           NewTag(0x0008, 0x103E),
	"InstitutionalDepartmentName": NewTag(0x0008, 0x1040),
	"PerformingPhysicianName":     NewTag(0x0008, 0x1050),
	"OperatorsName":               NewTag(0x0008, 0x1070),
	"ManufacturerModelName":       NewTag(0x0008, 0x1090),
	"ReferencedStudySequence":     NewTag(0x0008, 0x1110),
	"ReferencedSeriesSequence":    NewTag(0x0008, 0x1115),
	"ReferencedSOPClassUID":       NewTag(0x0008, 0x1150),
	"ReferencedSOPInstanceUID":    NewTag(0x0008, 0x1155),

	"PatientName":       NewTag(0x0010, 0x0010),
	"PatientID":         NewTag(0x0010, 0x0020),
	"IssuerOfPatientID": NewTag(0x0010, 0x0021),
	"PatientBirthDate":  NewTag(0x0010, 0x0030),
	"PatientSex":        NewTag(0x0010, 0x0040),
	"OtherPatientIDs":   NewTag(0x0010, 0x1000),
	"PatientAge":        NewTag(0x0010, 0x1010),
	"PatientSize":       NewTag(0x0010, 0x1020),
	"PatientWeight":     NewTag(0x0010, 0x1030),
	"PatientComments":   NewTag(0x0010, 0x4000),

	"BodyPartExamined": NewTag(0x0018, 0x0015),
	"SliceThickness":   NewTag(0x0018, 0x0050),
	"ProtocolName":     NewTag(0x0018, 0x1030),

	"StudyInstanceUID":                NewTag(0x0020, 0x000D),
	"SeriesInstanceUID":               NewTag(0x0020, 0x000E),
	"StudyID":                         NewTag(0x0020, 0x0010),
	"SeriesNumber":                    NewTag(0x0020, 0x0011),
	"AcquisitionNumber":               NewTag(0x0020, 0x0012),
	"InstanceNumber":                  NewTag(0x0020, 0x0013),
	"FrameOfReferenceUID":             NewTag(0x0020, 0x0052),
	"NumberOfPatientRelatedStudies":   NewTag(0x0020, 0x1200),
	"NumberOfPatientRelatedSeries":    NewTag(0x0020, 0x1202),
	"NumberOfPatientRelatedInstances": NewTag(0x0020, 0x1204),
	"NumberOfStudyRelatedSeries":      NewTag(0x0020, 0x1206),
	"NumberOfStudyRelatedInstances":   NewTag(0x0020, 0x1208),
	"NumberOfSeriesRelatedInstances":  NewTag(0x0020, 0x1209),

	"PhotometricInterpretation": NewTag(0x0028, 0x0004),
	"NumberOfFrames":            NewTag(0x0028, 0x0008),
	"Rows":                      NewTag(0x0028, 0x0010),
	"Columns":                   NewTag(0x0028, 0x0011),

	"RequestedProcedureDescription": NewTag(0x0032, 0x1060),

	"ScheduledStationAETitle":           NewTag(0x0040, 0x0001),
	"ScheduledProcedureStepStartDate":   NewTag(0x0040, 0x0002),
	"ScheduledProcedureStepStartTime":   NewTag(0x0040, 0x0003),
	"ScheduledPerformingPhysicianName":  NewTag(0x0040, 0x0006),
	"ScheduledProcedureStepDescription": NewTag(0x0040, 0x0007),
	"ScheduledProcedureStepID":          NewTag(0x0040, 0x0009),
	"ScheduledProcedureStepSequence":    NewTag(0x0040, 0x0100),
	"PerformedProcedureStepStartDate":   NewTag(0x0040, 0x0244),
	"PerformedProcedureStepStartTime":   NewTag(0x0040, 0x0245),
	"RequestedProcedureID":              NewTag(0x0040, 0x1001),

	"PixelData": NewTag(0x7FE0, 0x0010),
}

var keywords = func() map[Tag]string {
	m := make(map[Tag]string, len(dictionary))
	for k, t := range dictionary {
		m[t] = k
	}
	return m
}()

// TagForKeyword looks up a dictionary keyword
func TagForKeyword(keyword string) (Tag, bool) {
	t, ok := dictionary[keyword]
	return t, ok
}

// KeywordForTag returns the dictionary keyword for tag, or "" if it is not in the dictionary
func KeywordForTag(tag Tag) string {
	return keywords[tag]
}
